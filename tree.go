package histview

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// FilterTree applies the tree level part of filter f to the input tree and
// stores the result (and everything it references) in dst. A nil result
// with nil error means the filter removed everything; the empty tree's well
// known id is [EmptyTreeHash].
//
// Blob contents are never transformed, only relocated, so the rewrite is
// structural: its cost is bounded by the number of paths the filter
// touches, not by file sizes.
func FilterTree(ctx context.Context, f *Filter, tree *object.Tree, src, dst storer.Storer) (*object.Tree, error) {
	tf, _ := f.Normalize().splitSquash()

	r := newTreeRewriter(src, dst)

	h, err := r.apply(ctx, tf, tree.Hash, src)
	if err != nil {
		return nil, err
	}
	if h.IsZero() {
		return nil, nil
	}

	return object.GetTree(dst, h)
}

// treeRewriter applies one fixed filter to trees, memoizing per (filter
// node, input tree) so shared subtrees across commits are rewritten once.
type treeRewriter struct {
	src storer.Storer
	dst storer.Storer

	memo map[treeMemoKey]plumbing.Hash
}

type treeMemoKey struct {
	node   *Filter
	input  plumbing.Hash
	prefix string
}

func newTreeRewriter(src, dst storer.Storer) *treeRewriter {
	return &treeRewriter{
		src:  src,
		dst:  dst,
		memo: make(map[treeMemoKey]plumbing.Hash),
	}
}

// apply rewrites the tree at h under f, reading the input from in and
// leaving the result fully stored in r.dst. The zero hash stands for the
// empty tree on both sides.
func (r *treeRewriter) apply(ctx context.Context, f *Filter, h plumbing.Hash, in storer.Storer) (plumbing.Hash, error) {
	select {
	case <-ctx.Done():
		return plumbing.ZeroHash, ctx.Err()
	default:
	}

	if h.IsZero() || h == EmptyTreeHash {
		return plumbing.ZeroHash, nil
	}

	key := treeMemoKey{node: f, input: h}
	if v, found := r.memo[key]; found {
		return v, nil
	}

	result, err := r.applyUncached(ctx, f, h, in)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	r.memo[key] = result

	return result, nil
}

func (r *treeRewriter) applyUncached(ctx context.Context, f *Filter, h plumbing.Hash, in storer.Storer) (plumbing.Hash, error) {
	switch f.Op {
	case OpNop, OpSquash:
		if err := copyTree(ctx, h, in, r.dst); err != nil {
			return plumbing.ZeroHash, err
		}
		return h, nil

	case OpSubdir:
		cur := h
		for _, seg := range f.Path {
			tree, err := object.GetTree(in, cur)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("failed to read tree %s: %w", cur, err)
			}
			next := plumbing.ZeroHash
			for _, e := range tree.Entries {
				if e.Name == seg && e.Mode == filemode.Dir {
					next = e.Hash
					break
				}
			}
			if next.IsZero() {
				// an absent path simply yields the empty tree
				return plumbing.ZeroHash, nil
			}
			cur = next
		}
		if err := copyTree(ctx, cur, in, r.dst); err != nil {
			return plumbing.ZeroHash, err
		}
		return cur, nil

	case OpPrefix:
		if err := copyTree(ctx, h, in, r.dst); err != nil {
			return plumbing.ZeroHash, err
		}
		b, err := newTreeBuilder(r.dst, plumbing.ZeroHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if err := b.graft(f.Path, h); err != nil {
			return plumbing.ZeroHash, err
		}
		return b.write(ctx)

	case OpGlob:
		return r.glob(ctx, f, "", h, in)

	case OpChain:
		cur := h
		cin := in
		for _, c := range f.Filters {
			var err error
			cur, err = r.apply(ctx, c, cur, cin)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if cur.IsZero() {
				return plumbing.ZeroHash, nil
			}
			// intermediate results live in dst
			cin = r.dst
		}
		return cur, nil

	case OpCombine:
		b, err := newTreeBuilder(r.dst, plumbing.ZeroHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		for _, branch := range f.Branches {
			res, err := r.apply(ctx, branch.Filter, h, in)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if res.IsZero() {
				continue
			}
			// branch order is the collision rule: later branches
			// overwrite earlier ones at identical paths
			if err := b.merge(branch.Prefix, res); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return b.write(ctx)

	case OpMove:
		sub, err := r.apply(ctx, &Filter{Op: OpSubdir, Path: f.Src}, h, in)
		if err != nil || sub.IsZero() {
			return plumbing.ZeroHash, err
		}
		return r.apply(ctx, &Filter{Op: OpPrefix, Path: f.Dst}, sub, r.dst)
	}

	return plumbing.ZeroHash, fmt.Errorf("unknown filter op %d", f.Op)
}

// glob keeps the blobs under h whose slash path matches the pattern.
// prefix is the path of h relative to the filter's input root.
func (r *treeRewriter) glob(ctx context.Context, f *Filter, prefix string, h plumbing.Hash, in storer.Storer) (plumbing.Hash, error) {
	key := treeMemoKey{node: f, input: h, prefix: prefix}
	if v, found := r.memo[key]; found {
		return v, nil
	}

	tree, err := object.GetTree(in, h)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read tree %s: %w", h, err)
	}

	entries := make([]object.TreeEntry, 0, len(tree.Entries))

	for _, e := range tree.Entries {
		switch {
		case e.Mode == filemode.Dir:
			sub, err := r.glob(ctx, f, prefix+e.Name+"/", e.Hash, in)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if !sub.IsZero() {
				entries = append(entries, object.TreeEntry{Name: e.Name, Mode: e.Mode, Hash: sub})
			}
		case e.Mode.IsFile():
			match, err := doublestar.Match(f.Pattern, prefix+e.Name)
			if err != nil {
				return plumbing.ZeroHash, fmt.Errorf("bad glob pattern %q: %w", f.Pattern, err)
			}
			if !match {
				continue
			}
			if err := copyObject(ctx, e.Hash, plumbing.BlobObject, in, r.dst); err != nil {
				return plumbing.ZeroHash, err
			}
			entries = append(entries, e)
		default:
			// submodules are silently dropped
		}
	}

	result := plumbing.ZeroHash

	if len(entries) > 0 {
		sortTreeEntries(entries)
		newtree := &object.Tree{Entries: entries}
		nh, err := GetHash(newtree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if err := updateHashAndSave(ctx, newtree, r.dst); err != nil {
			return plumbing.ZeroHash, errorf(err, "failed to save tree: %w", err)
		}
		result = *nh
	}

	r.memo[key] = result

	return result, nil
}
