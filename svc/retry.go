package svc

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/fardream/histview"
)

// withRetry runs op up to attempts times, doubling the delay between
// attempts. Permanent errors and context cancellation stop the retries
// immediately.
func withRetry(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := base

	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		logger.Warn("transient failure, retrying", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}

// isTransient classifies an error for the retry loop: semantic failures
// (bad specs, conflicts, missing refs, empty results) never change on
// retry, while store level failures might.
func isTransient(err error) bool {
	var (
		conflict    *histview.ConflictError
		spec        *histview.MalformedSpecError
		consistency *histview.CacheConsistencyError
	)

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, histview.ErrEmptyFilterResult):
		return false
	case errors.As(err, &conflict),
		errors.As(err, &spec),
		errors.As(err, &consistency):
		return false
	}

	return true
}
