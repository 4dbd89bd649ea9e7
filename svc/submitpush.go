package svc

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fardream/histview"
)

// PushRequest submits a commit made against a view for expansion into the
// unfiltered history.
type PushRequest struct {
	Repo string `json:"repo"`
	// Filter the view was resolved with.
	Filter string `json:"filter"`
	// Filtered is the id of the pushed commit. Its objects must already be
	// present in the repo's store.
	Filtered string `json:"filtered"`
	// Base is the unfiltered commit the view was resolved from; the
	// expanded commit is built on top of it.
	Base string `json:"base"`
	// Ref, when set, is compare-and-swapped from Base to the expanded
	// commit. The full reference name is expected.
	Ref string `json:"ref,omitempty"`
}

// SubmitPush validates the pushed commit against the filter, expands its
// edits onto the base commit and returns the expanded commit id. Every
// path the push touches must be one the filter's forward direction can
// produce; violations surface as [*histview.ConflictError] before anything
// is written.
func (s *Svc) SubmitPush(ctx context.Context, request *PushRequest) (plumbing.Hash, error) {
	if request == nil || request.Repo == "" {
		return plumbing.ZeroHash, ErrEmptyRepoName
	}
	if request.Filter == "" {
		return plumbing.ZeroHash, ErrEmptyFilter
	}
	if request.Filtered == "" || request.Base == "" {
		return plumbing.ZeroHash, ErrEmptyCommit
	}

	f, err := histview.ParseFilter(request.Filter)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	f = f.Normalize()
	fid := f.ID()

	rp, err := s.getRepo(request.Repo)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	filteredhash, err := histview.DecodeHashHex(request.Filtered)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("bad filtered commit id: %w", err)
	}
	basehash, err := histview.DecodeHashHex(request.Base)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("bad base commit id: %w", err)
	}

	lockkey := request.Repo + "\x00" + request.Ref
	if request.Ref == "" {
		lockkey = request.Repo + "\x00" + request.Base
	}
	closer, err := s.lockId(ctx, lockkey)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer s.unlockId(lockkey, closer)

	base, err := object.GetCommit(rp.storage, basehash)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read base commit %s: %w", basehash, err)
	}
	filteredNew, err := object.GetCommit(rp.storage, filteredhash)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read pushed commit %s: %w", filteredhash, err)
	}

	filteredOrig, err := s.filteredImage(ctx, rp, f, fid, base)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	check, err := histview.CheckTreeDeltaAgainstFilter(
		ctx, f, filteredOrig.TreeHash, filteredNew.TreeHash, rp.storage)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if err := check.ToError(); err != nil {
		return plumbing.ZeroHash, err
	}

	expanded, err := histview.ExpandCommit(
		ctx, rp.storage, filteredOrig, filteredNew, base, rp.storage, f)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	if request.Ref != "" {
		if err := s.advanceRef(rp, request.Ref, basehash, expanded.Hash); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	// when the push extends the view linearly its mapping is already
	// known, seed the cache so the next resolution reuses it
	if len(filteredNew.ParentHashes) == 1 && filteredNew.ParentHashes[0] == filteredOrig.Hash {
		if err := rp.cache.Put(fid, expanded.Hash, filteredNew.Hash); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	logger.Info("expanded push",
		"repo", rp.name,
		"filtered", filteredNew.Hash,
		"base", basehash,
		"expanded", expanded.Hash)

	return expanded.Hash, nil
}

// filteredImage returns the commit the view showed for base, from the
// rewrite cache when possible, deriving it otherwise.
func (s *Svc) filteredImage(
	ctx context.Context,
	rp *repo,
	f *histview.Filter,
	fid histview.FilterID,
	base *object.Commit,
) (*object.Commit, error) {
	if v, found, err := rp.cache.Get(fid, base.Hash); err != nil {
		return nil, err
	} else if found {
		if v == histview.EmptyTreeHash {
			return nil, ErrEmptyViewImage
		}
		return object.GetCommit(rp.storage, v)
	}

	filtered, err := histview.FilterHistory(ctx, base, rp.storage, rp.storage, f, rp.cache)
	if err != nil {
		return nil, err
	}
	if filtered == nil {
		return nil, ErrEmptyViewImage
	}

	return filtered, nil
}

// advanceRef moves ref from base to next, refusing when upstream moved in
// the meantime.
func (s *Svc) advanceRef(rp *repo, ref string, base, next plumbing.Hash) error {
	name := plumbing.ReferenceName(ref)

	old, err := rp.storage.Reference(name)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to read ref %s: %w", name, err)
	}
	if err == nil && old.Hash() != base {
		return fmt.Errorf("%w: %s is at %s, push expanded from %s", ErrRefCASFailed, name, old.Hash(), base)
	}
	if err != nil {
		old = nil
	}

	if err := rp.storage.CheckAndSetReference(plumbing.NewHashReference(name, next), old); err != nil {
		return fmt.Errorf("%w: %s", ErrRefCASFailed, err)
	}

	return nil
}
