package histview

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// FilterHistory rewrites the commit DAG reachable from head under filter f
// and returns the rewritten head. New objects are written to dst; cache,
// when non nil, is consulted before any tree work and populated as the
// traversal progresses, so a later call resumes at the rewrite frontier
// instead of revisiting the whole graph.
//
//   - Commits whose filtered tree is empty are dropped; commits above them
//     root the filtered history.
//   - A commit whose filtered tree equals its sole surviving parent's tree
//     is elided: it maps to that parent.
//   - A merge whose side parents brought nothing new under the filter
//     collapses toward its one substantive parent; merges with two or more
//     substantive parents survive with their rewritten parents.
//
// A nil commit with nil error means the filter removed the whole history.
func FilterHistory(
	ctx context.Context,
	head *object.Commit,
	src, dst storer.Storer,
	f *Filter,
	cache *Cache,
) (*object.Commit, error) {
	f = f.Normalize()
	tf, squash := f.splitSquash()

	fullid := f.ID()
	tfid := tf.ID()

	if cache != nil {
		if v, found, err := cache.Get(fullid, head.Hash); err != nil {
			return nil, err
		} else if found {
			return commitFromCacheValue(dst, v)
		}
	}

	hr := &historyRewriter{
		rewriter: newTreeRewriter(src, dst),
		tf:       tf,
		tfid:     tfid,
		src:      src,
		dst:      dst,
		cache:    cache,
		mapped:   make(map[plumbing.Hash]plumbing.Hash),
		commits:  make(map[plumbing.Hash]*object.Commit),
		orig:     make(map[plumbing.Hash]*object.Commit),
	}

	newhead, err := hr.run(ctx, head)
	if err != nil {
		return nil, err
	}

	if !squash {
		return newhead, nil
	}

	return hr.squash(ctx, head, fullid, newhead)
}

type historyRewriter struct {
	rewriter *treeRewriter
	tf       *Filter
	tfid     FilterID
	src      storer.Storer
	dst      storer.Storer
	cache    *Cache

	// mapped is the memo of original commit id to rewritten commit id,
	// with the zero hash standing for "filtered to empty".
	mapped  map[plumbing.Hash]plumbing.Hash
	commits map[plumbing.Hash]*object.Commit
	orig    map[plumbing.Hash]*object.Commit
}

func (hr *historyRewriter) run(ctx context.Context, head *object.Commit) (*object.Commit, error) {
	path, err := GetDFSPath(ctx, head, hr.frontier, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain commit graph: %w", err)
	}

	n := len(path)

	for i, c := range path {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if c == nil {
			continue
		}

		hr.orig[c.Hash] = c

		parents, err := hr.resolveParents(ctx, c)
		if err != nil {
			return nil, err
		}

		newcommit, isparent, err := filterCommit(ctx, hr.rewriter, hr.tf, c, parents, hr.dst)
		if err != nil {
			return nil, errorf(err, "failed to rewrite commit %d of %d (%s): %w", i, n, c.Hash, err)
		}

		mapped := plumbing.ZeroHash
		if newcommit != nil {
			mapped = newcommit.Hash
			hr.commits[newcommit.Hash] = newcommit
		}
		hr.mapped[c.Hash] = mapped

		if isparent {
			logger.Debug("reuse parent commit", "id", i, "total", n, "hash", c.Hash, "newcommit", mapped)
		} else {
			logger.Debug("processing commit", "id", i, "total", n, "hash", c.Hash, "newcommit", mapped)
		}

		if hr.cache != nil {
			if err := hr.cache.Put(hr.tfid, c.Hash, cacheValueFor(mapped)); err != nil {
				return nil, err
			}
		}
	}

	result, found := hr.mapped[head.Hash]
	if !found || result.IsZero() {
		return nil, nil
	}

	return hr.commit(result)
}

// frontier is the traversal boundary: commits already rewritten under this
// filter identity. Their mappings are seeded from the cache.
func (hr *historyRewriter) frontier(c *object.Commit) (bool, error) {
	if hr.cache == nil {
		return false, nil
	}

	v, found, err := hr.cache.Get(hr.tfid, c.Hash)
	if err != nil || !found {
		return false, err
	}

	hr.orig[c.Hash] = c
	if v == EmptyTreeHash {
		hr.mapped[c.Hash] = plumbing.ZeroHash
	} else {
		hr.mapped[c.Hash] = v
	}

	return true, nil
}

// resolveParents maps the parents of c into the filtered graph, dropping
// parents that filtered to empty, deduplicating while preserving first
// occurrence, and applying the merge collapse policy.
func (hr *historyRewriter) resolveParents(ctx context.Context, c *object.Commit) ([]*object.Commit, error) {
	mapped := make([]plumbing.Hash, 0, c.NumParents())
	seen := make(map[plumbing.Hash]empty)

	substantive := make([]plumbing.Hash, 0, c.NumParents())

	for _, ph := range c.ParentHashes {
		m, found := hr.mapped[ph]
		if !found {
			logger.Warn("parent outside of traversal, skipping", "commit", c.Hash, "parent", ph)
			continue
		}
		if hr.isSubstantive(ph, m) {
			substantive = append(substantive, m)
		}
		if m.IsZero() {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = empty{}
		mapped = append(mapped, m)
	}

	// squash uninteresting merges: when at most one parent brought
	// anything new under the filter, the merge collapses toward it.
	if c.NumParents() >= 2 && len(mapped) >= 2 {
		switch len(substantive) {
		case 0:
			mapped = mapped[:1]
		case 1:
			if !substantive[0].IsZero() {
				mapped = substantive[:1]
			} else {
				mapped = mapped[:1]
			}
		}
	}

	parents := make([]*object.Commit, 0, len(mapped))
	for _, m := range mapped {
		pc, err := hr.commit(m)
		if err != nil {
			return nil, err
		}
		parents = append(parents, pc)
	}

	return parents, nil
}

// isSubstantive reports whether the rewritten form of the parent with
// original hash ph differs from the rewritten form of its own first
// parent, i.e. whether that line of history changed anything the filter
// can see. Parents whose ancestry is outside the traversal are treated as
// substantive.
func (hr *historyRewriter) isSubstantive(ph, mapped plumbing.Hash) bool {
	pc := hr.orig[ph]
	if pc == nil {
		return true
	}
	if pc.NumParents() == 0 {
		return !mapped.IsZero()
	}

	gm, found := hr.mapped[pc.ParentHashes[0]]
	if !found {
		return true
	}

	return mapped != gm
}

// commit resolves a rewritten commit id to its object, preferring commits
// built during this traversal over store reads.
func (hr *historyRewriter) commit(h plumbing.Hash) (*object.Commit, error) {
	if c, found := hr.commits[h]; found {
		return c, nil
	}

	c, err := object.GetCommit(hr.dst, h)
	if err != nil {
		return nil, fmt.Errorf("failed to read rewritten commit %s: %w", h, err)
	}

	hr.commits[h] = c

	return c, nil
}

// squash collapses the rewritten history to a single parentless commit
// carrying the head's filtered tree and metadata.
func (hr *historyRewriter) squash(ctx context.Context, head *object.Commit, fullid FilterID, newhead *object.Commit) (*object.Commit, error) {
	if newhead == nil {
		if hr.cache != nil {
			if err := hr.cache.Put(fullid, head.Hash, EmptyTreeHash); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	squashed := &object.Commit{
		TreeHash:  newhead.TreeHash,
		Author:    head.Author,
		Committer: head.Committer,
		Message:   head.Message,
	}

	h, err := GetHash(squashed)
	if err != nil {
		return nil, fmt.Errorf("failed to hash squashed commit: %w", err)
	}
	squashed.Hash = *h

	if err := updateHashAndSave(ctx, squashed, hr.dst); err != nil {
		return nil, errorf(err, "failed to save squashed commit: %w", err)
	}

	if hr.cache != nil {
		if err := hr.cache.Put(fullid, head.Hash, squashed.Hash); err != nil {
			return nil, err
		}
	}

	return hr.commit(squashed.Hash)
}

func cacheValueFor(mapped plumbing.Hash) plumbing.Hash {
	if mapped.IsZero() {
		return EmptyTreeHash
	}

	return mapped
}

func commitFromCacheValue(dst storer.Storer, v plumbing.Hash) (*object.Commit, error) {
	if v == EmptyTreeHash {
		return nil, nil
	}

	c, err := object.GetCommit(dst, v)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached rewritten commit %s: %w", v, err)
	}

	return c, nil
}
