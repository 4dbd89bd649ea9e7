// errors

package svc

import "errors"

var (
	ErrNilDB          = errors.New("nil db")
	ErrUnknownRepo    = errors.New("unknown repo")
	ErrEmptyRepoName  = errors.New("empty repo name")
	ErrEmptyRefName   = errors.New("empty ref name")
	ErrEmptyFilter    = errors.New("empty filter")
	ErrEmptyCommit    = errors.New("empty commit id")
	ErrRefCASFailed   = errors.New("ref changed upstream, refusing to update")
	ErrTimeout        = errors.New("request exceeded its time budget")
	ErrEmptyViewImage = errors.New("base commit has no image under the filter")
)
