package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fardream/histview"
)

// ViewRefPrefix is the reference namespace the resolved view heads are
// published under.
const ViewRefPrefix = "refs/histview/views"

// ViewRequest asks for the head of ref as seen through a filter.
type ViewRequest struct {
	Repo string `json:"repo"`
	// Filter spec text, e.g. ":/a/b" or ":[lib=:/src, doc=::**/*.md]".
	Filter string `json:"filter"`
	// Ref is the full reference name, e.g. "refs/heads/main".
	Ref string `json:"ref"`
}

const retryBaseDelay = 50 * time.Millisecond

// ResolveView rewrites the history of the requested ref under the filter
// and returns the rewritten head. Concurrent requests for the same view
// share one traversal: late arrivals wait on the in-flight computation
// instead of starting their own. The shared computation runs detached from
// any single caller, bounded only by the configured request budget, so one
// caller giving up does not waste the work for the others.
//
// The resolved head is published under [ViewRefPrefix] with a compare and
// swap, and surfaces as the return value. Exceeding the budget returns
// [ErrTimeout]; a filter that empties the history returns
// [histview.ErrEmptyFilterResult].
func (s *Svc) ResolveView(ctx context.Context, request *ViewRequest) (plumbing.Hash, error) {
	if request == nil || request.Repo == "" {
		return plumbing.ZeroHash, ErrEmptyRepoName
	}
	if request.Ref == "" {
		return plumbing.ZeroHash, ErrEmptyRefName
	}
	if request.Filter == "" {
		return plumbing.ZeroHash, ErrEmptyFilter
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

	key := viewId(request.Repo, fid, request.Ref)

	ch := s.flight.DoChan(key, func() (any, error) {
		// detach from the triggering caller: the flight serves everyone
		// coalesced onto it and answers only to the request budget
		ictx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), s.config.requestTimeout())
		defer cancel()

		return s.resolveOne(ictx, rp, f, fid, request.Ref, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.DeadlineExceeded) {
				return plumbing.ZeroHash, ErrTimeout
			}
			return plumbing.ZeroHash, res.Err
		}
		return res.Val.(plumbing.Hash), nil
	case <-ctx.Done():
		return plumbing.ZeroHash, ctx.Err()
	}
}

func (s *Svc) resolveOne(
	ctx context.Context,
	rp *repo,
	f *histview.Filter,
	fid histview.FilterID,
	ref string,
	key string,
) (plumbing.Hash, error) {
	closer, err := s.lockId(ctx, key)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer s.unlockId(key, closer)

	var result plumbing.Hash

	err = withRetry(ctx, s.config.retryAttempts(), retryBaseDelay, func() error {
		srcref, err := rp.storage.Reference(plumbing.ReferenceName(ref))
		if err != nil {
			return fmt.Errorf("failed to resolve %s in %s: %w", ref, rp.name, err)
		}

		head, err := object.GetCommit(rp.storage, srcref.Hash())
		if err != nil {
			return fmt.Errorf("failed to read head commit %s: %w", srcref.Hash(), err)
		}

		newhead, err := histview.FilterHistory(ctx, head, rp.storage, rp.storage, f, rp.cache)
		if err != nil {
			return err
		}
		if newhead == nil {
			return histview.ErrEmptyFilterResult
		}

		if err := s.publishView(rp, fid, ref, newhead.Hash); err != nil {
			return err
		}

		result = newhead.Hash
		s.recordResolve(key, head.Hash, newhead.Hash)

		return nil
	})

	return result, err
}

func viewRefName(fid histview.FilterID, ref string) plumbing.ReferenceName {
	return plumbing.ReferenceName(fmt.Sprintf("%s/%s/%s", ViewRefPrefix, fid.Hex(), ref))
}

// viewId keys the singleflight group, the id lock and the stat record for
// one view. NUL joined like the push lock keys, so a repo or ref name
// containing "/" cannot alias another view.
func viewId(repo string, fid histview.FilterID, ref string) string {
	return repo + "\x00" + fid.Hex() + "\x00" + ref
}

// publishView points the view ref at the resolved head with a compare and
// swap against whatever this process last observed.
func (s *Svc) publishView(rp *repo, fid histview.FilterID, ref string, head plumbing.Hash) error {
	name := viewRefName(fid, ref)

	old, err := rp.storage.Reference(name)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to read view ref %s: %w", name, err)
	}
	if err != nil {
		old = nil
	}
	if old != nil && old.Hash() == head {
		return nil
	}

	newref := plumbing.NewHashReference(name, head)
	if err := rp.storage.CheckAndSetReference(newref, old); err != nil {
		return fmt.Errorf("failed to publish view ref %s: %w", name, err)
	}

	return nil
}

// recordResolve updates the view's stat record. Stats are best effort and
// never fail a resolution.
func (s *Svc) recordResolve(key string, src, view plumbing.Hash) {
	stat, err := getViewStatFromDb(s.db, []byte(key))
	if err != nil || stat == nil {
		stat = &ViewStat{}
	}

	stat.SourceCommit = src.String()
	stat.ViewCommit = view.String()
	stat.ResolveCount += 1
	stat.LastResolveUnix = time.Now().Unix()

	if err := putViewStatToDb(s.db, []byte(key), stat); err != nil {
		logger.Warn("failed to record view stat", "key", key, "error", err)
	}
}
