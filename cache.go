package histview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// CacheRefPrefix is the reference namespace holding rewrite cache entries.
// External tooling must never write into it.
const CacheRefPrefix = "refs/histview/rewrite"

// Cache is the rewrite memo table: (filter identity, source commit id) to
// rewritten commit id. Entries are persisted as ordinary references in the
// store itself, so a separate process, or a restart, observes the same
// cache; an in-memory map fronts the reference reads for the process.
//
// The mapping from a commit that filtered to nothing is recorded as
// [EmptyTreeHash].
//
// Entries are append only: a key is never remapped. New filter semantics
// mean a new filter identity, hence a new key, never an update.
type Cache struct {
	s storer.Storer

	mu  sync.RWMutex
	mem map[cacheKey]plumbing.Hash
}

type cacheKey struct {
	filter FilterID
	src    plumbing.Hash
}

// NewCache creates a cache backed by the given store.
func NewCache(s storer.Storer) *Cache {
	return &Cache{
		s:   s,
		mem: make(map[cacheKey]plumbing.Hash),
	}
}

func cacheRefName(filter FilterID, src plumbing.Hash) plumbing.ReferenceName {
	return plumbing.ReferenceName(
		fmt.Sprintf("%s/%s/%s", CacheRefPrefix, filter.Hex(), src.String()))
}

// Get looks up the rewritten commit id for (filter, src). A found value of
// [EmptyTreeHash] means the source commit filtered to nothing.
func (c *Cache) Get(filter FilterID, src plumbing.Hash) (plumbing.Hash, bool, error) {
	key := cacheKey{filter: filter, src: src}

	c.mu.RLock()
	v, found := c.mem[key]
	c.mu.RUnlock()
	if found {
		return v, true, nil
	}

	ref, err := c.s.Reference(cacheRefName(filter, src))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	v = ref.Hash()

	c.mu.Lock()
	c.mem[key] = v
	c.mu.Unlock()

	return v, true, nil
}

// Put records the mapping (filter, src) -> result. Re-putting an identical
// mapping is a no-op; re-putting a different mapping for an existing key
// fails with [*CacheConsistencyError], since cache keys are pure functions
// of their inputs and a mismatch indicates either a non deterministic
// filter or a digest collision.
func (c *Cache) Put(filter FilterID, src, result plumbing.Hash) error {
	if result.IsZero() {
		result = EmptyTreeHash
	}

	existing, found, err := c.Get(filter, src)
	if err != nil {
		return err
	}
	if found {
		if existing == result {
			return nil
		}
		return &CacheConsistencyError{Filter: filter, Src: src, Old: existing, New: result}
	}

	name := cacheRefName(filter, src)
	if err := c.s.SetReference(plumbing.NewHashReference(name, result)); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}

	c.mu.Lock()
	c.mem[cacheKey{filter: filter, src: src}] = result
	c.mu.Unlock()

	return nil
}

// Frontier reconstructs the set of source commits already rewritten under
// the filter by scanning the cache namespace. The set is derived state:
// it is never persisted on its own.
func (c *Cache) Frontier(ctx context.Context, filter FilterID) (HashSet, error) {
	prefix := fmt.Sprintf("%s/%s/", CacheRefPrefix, filter.Hex())

	result := make(HashSet)

	iter, err := c.s.IterReferences()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate references: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := string(ref.Name())
		if !strings.HasPrefix(name, prefix) {
			return nil
		}

		src, err := DecodeHashHex(strings.TrimPrefix(name, prefix))
		if err != nil {
			logger.Warn("malformed cache reference", "ref", name)
			return nil
		}

		result[src] = empty{}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
