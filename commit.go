package histview

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// FilterCommit creates a new [object.Commit] in dst by applying the filter
// to the tree of the input commit. The author info, committer info and
// commit message are copied from the input commit; signature information is
// dropped, since the rewritten content no longer matches what was signed.
//
//   - If the filtered tree is empty, the returned commit is nil with a nil
//     error.
//   - If the commit has exactly one surviving parent and the filtered tree
//     equals that parent's tree, the parent itself is returned and isparent
//     is true: the commit brought nothing new under this filter.
func FilterCommit(
	ctx context.Context,
	c *object.Commit,
	parents []*object.Commit,
	src, dst storer.Storer,
	f *Filter,
) (newcommit *object.Commit, isparent bool, err error) {
	tf, _ := f.Normalize().splitSquash()

	return filterCommit(ctx, newTreeRewriter(src, dst), tf, c, parents, dst)
}

// filterCommit is [FilterCommit] with a caller owned rewriter, so a history
// traversal shares one tree memo across all its commits.
func filterCommit(
	ctx context.Context,
	r *treeRewriter,
	tf *Filter,
	c *object.Commit,
	parents []*object.Commit,
	dst storer.Storer,
) (*object.Commit, bool, error) {
	newtree, err := r.apply(ctx, tf, c.TreeHash, r.src)
	if err != nil {
		return nil, false, errorf(err, "failed to filter tree of %s: %w", c.Hash, err)
	}

	if newtree.IsZero() {
		return nil, false, nil
	}

	if len(parents) == 1 && parents[0].TreeHash == newtree {
		return parents[0], true, nil
	}

	var parenthashes []plumbing.Hash
	for _, parent := range parents {
		if parent == nil {
			continue
		}
		parenthashes = append(parenthashes, parent.Hash)
	}

	newcommit := &object.Commit{
		TreeHash:     newtree,
		Author:       c.Author,
		Committer:    c.Committer,
		Message:      c.Message,
		ParentHashes: parenthashes,
	}

	newhash, err := GetHash(newcommit)
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain new hash for commit: %w", err)
	}

	newcommit.Hash = *newhash

	if err := updateHashAndSave(ctx, newcommit, dst); err != nil {
		return nil, false, errorf(err, "failed to save commit: %w", err)
	}

	// reload through dst, a hand built commit cannot resolve its parents
	saved, err := object.GetCommit(dst, newcommit.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload saved commit %s: %w", newcommit.Hash, err)
	}

	return saved, false, nil
}
