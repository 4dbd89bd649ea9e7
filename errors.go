package histview

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// ErrEmptyFilterResult indicates the filter removed every commit of the
// input history.
var ErrEmptyFilterResult = errors.New("filter produced an empty history")

// MalformedSpecError is returned by [ParseFilter] when the spec text cannot
// be compiled. Offset is the byte position of the failure in the input.
type MalformedSpecError struct {
	Offset int
	Msg    string
}

func (e *MalformedSpecError) Error() string {
	return fmt.Sprintf("malformed filter spec at byte %d: %s", e.Offset, e.Msg)
}

func malformed(offset int, format string, a ...any) error {
	return &MalformedSpecError{Offset: offset, Msg: fmt.Sprintf(format, a...)}
}

// ConflictError is returned by the inverse rewrite when a filtered edit
// cannot be attributed to a unique path of the unfiltered tree.
type ConflictError struct {
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at %s: %s", e.Path, e.Reason)
}

// CacheConsistencyError indicates an attempt to overwrite a cache key with
// a different value. Cache keys are pure functions of their inputs, so this
// is an invariant breach, not a recoverable condition.
type CacheConsistencyError struct {
	Filter FilterID
	Src    plumbing.Hash
	Old    plumbing.Hash
	New    plumbing.Hash
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf(
		"cache entry (%s, %s) already maps to %s, refusing to remap to %s",
		e.Filter.Hex(), e.Src, e.Old, e.New)
}

// errorf wraps err with the given format unless err already carries one of
// the package's typed errors, which must surface verbatim to the caller.
func errorf(err error, format string, a ...any) error {
	var (
		conflict  *ConflictError
		spec      *MalformedSpecError
		cachemiss *CacheConsistencyError
	)
	if errors.As(err, &conflict) || errors.As(err, &spec) || errors.As(err, &cachemiss) {
		return err
	}

	return fmt.Errorf(format, a...)
}
