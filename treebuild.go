package histview

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// treeBuilder edits a tree bottom up: entries start as hashes into the
// store and subtrees are expanded into mutable nodes only along edited
// paths, so a write costs O(changed paths), not O(tree size).
type treeBuilder struct {
	s    storer.Storer
	root *treeNode
}

type treeNode struct {
	entries map[string]*treeNodeEntry
}

// treeNodeEntry is either a hash backed entry (child == nil) or an
// expanded subtree.
type treeNodeEntry struct {
	mode  filemode.FileMode
	hash  plumbing.Hash
	child *treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{entries: make(map[string]*treeNodeEntry)}
}

// newTreeBuilder starts from the tree at base, or from an empty tree when
// base is the zero hash.
func newTreeBuilder(s storer.Storer, base plumbing.Hash) (*treeBuilder, error) {
	b := &treeBuilder{s: s, root: newTreeNode()}

	if base.IsZero() || base == EmptyTreeHash {
		return b, nil
	}

	if err := b.root.load(s, base); err != nil {
		return nil, err
	}

	return b, nil
}

func (n *treeNode) load(s storer.Storer, h plumbing.Hash) error {
	tree, err := object.GetTree(s, h)
	if err != nil {
		return fmt.Errorf("failed to load tree %s: %w", h, err)
	}

	for _, e := range tree.Entries {
		n.entries[e.Name] = &treeNodeEntry{mode: e.Mode, hash: e.Hash}
	}

	return nil
}

// descend returns the node at path, expanding hash backed directories on
// the way. With create set, missing directories are created and blob
// entries in the way are replaced by directories; without it, a missing
// component returns nil.
func (b *treeBuilder) descend(path []string, create bool) (*treeNode, error) {
	node := b.root

	for _, seg := range path {
		e, found := node.entries[seg]
		switch {
		case !found || e.mode != filemode.Dir:
			if !create {
				return nil, nil
			}
			e = &treeNodeEntry{mode: filemode.Dir, child: newTreeNode()}
			node.entries[seg] = e
		case e.child == nil:
			e.child = newTreeNode()
			if err := e.child.load(b.s, e.hash); err != nil {
				return nil, err
			}
			e.hash = plumbing.ZeroHash
		}
		node = e.child
	}

	return node, nil
}

// put sets the blob (or submodule) entry at path, creating intermediate
// directories and overwriting whatever was there.
func (b *treeBuilder) put(path []string, mode filemode.FileMode, h plumbing.Hash) error {
	if len(path) == 0 {
		return fmt.Errorf("cannot put an entry at the tree root")
	}

	node, err := b.descend(path[:len(path)-1], true)
	if err != nil {
		return err
	}

	node.entries[path[len(path)-1]] = &treeNodeEntry{mode: mode, hash: h}

	return nil
}

// graft mounts an existing tree object under path, overwriting whatever
// was there. A zero hash removes the entry instead.
func (b *treeBuilder) graft(path []string, tree plumbing.Hash) error {
	if tree.IsZero() {
		return b.remove(path)
	}
	if len(path) == 0 {
		b.root = newTreeNode()
		return b.root.load(b.s, tree)
	}

	node, err := b.descend(path[:len(path)-1], true)
	if err != nil {
		return err
	}

	node.entries[path[len(path)-1]] = &treeNodeEntry{mode: filemode.Dir, hash: tree}

	return nil
}

// merge overlays the tree object at h onto the subtree at path: blobs
// overwrite whatever is in the way, directories merge recursively.
func (b *treeBuilder) merge(path []string, h plumbing.Hash) error {
	node, err := b.descend(path, true)
	if err != nil {
		return err
	}

	return b.mergeNode(node, h)
}

func (b *treeBuilder) mergeNode(node *treeNode, h plumbing.Hash) error {
	tree, err := object.GetTree(b.s, h)
	if err != nil {
		return fmt.Errorf("failed to load tree %s: %w", h, err)
	}

	for _, e := range tree.Entries {
		existing := node.entries[e.Name]
		if e.Mode == filemode.Dir && existing != nil && existing.mode == filemode.Dir {
			if existing.child == nil {
				existing.child = newTreeNode()
				if err := existing.child.load(b.s, existing.hash); err != nil {
					return err
				}
				existing.hash = plumbing.ZeroHash
			}
			if err := b.mergeNode(existing.child, e.Hash); err != nil {
				return err
			}
			continue
		}
		node.entries[e.Name] = &treeNodeEntry{mode: e.Mode, hash: e.Hash}
	}

	return nil
}

// remove deletes the entry at path. Removing an absent path is a no-op.
func (b *treeBuilder) remove(path []string) error {
	if len(path) == 0 {
		b.root = newTreeNode()
		return nil
	}

	node, err := b.descend(path[:len(path)-1], false)
	if err != nil {
		return err
	}
	if node != nil {
		delete(node.entries, path[len(path)-1])
	}

	return nil
}

// write persists the edited tree and returns its hash. Directories left
// empty by edits are pruned; a fully empty tree yields the zero hash.
func (b *treeBuilder) write(ctx context.Context) (plumbing.Hash, error) {
	return b.root.write(ctx, b.s)
}

func (n *treeNode) write(ctx context.Context, s storer.Storer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.entries))

	for name, e := range n.entries {
		h := e.hash
		if e.child != nil {
			var err error
			h, err = e.child.write(ctx, s)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if h.IsZero() {
				continue
			}
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, Hash: h})
	}

	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}

	sortTreeEntries(entries)

	tree := &object.Tree{Entries: entries}
	h, err := GetHash(tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if err := updateHashAndSave(ctx, tree, s); err != nil {
		return plumbing.ZeroHash, errorf(err, "failed to save tree: %w", err)
	}

	return *h, nil
}

// sortTreeEntries orders entries the way git does: byte-wise by name, with
// directory names compared as if they had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	slices.SortFunc(entries, func(a, b object.TreeEntry) int {
		return strings.Compare(treeEntrySortKey(a), treeEntrySortKey(b))
	})
}

func treeEntrySortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}

	return e.Name
}
