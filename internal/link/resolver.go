package link

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLinkUnavailable is matched by every fetch failure.
	ErrLinkUnavailable = errors.New("link unavailable")
	// ErrTargetNotFound means the referenced record or field does not exist.
	ErrTargetNotFound = errors.New("link target not found")
	// ErrTypeMismatch means the fetched value cannot be represented as requested.
	ErrTypeMismatch = errors.New("link type mismatch")
	// ErrLockUnavailable means the target record stayed busy for too long.
	ErrLockUnavailable = errors.New("link target lock unavailable")
	// ErrNotConfigured means the link was never set.
	ErrNotConfigured = errors.New("link not configured")
)

// FetchError describes a failed reference fetch.
type FetchError struct {
	Ref FieldRef
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err)
}

// Unwrap exposes the cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrLinkUnavailable.
func (e *FetchError) Is(target error) bool {
	return target == ErrLinkUnavailable
}

// Resolver fetches link values on behalf of one record.
type Resolver struct {
	Target    Target
	Requester string
}

// Resolve returns the value of l in the requested representation.
// Constants never fail: their literal is checked once with Check when the
// owning record is initialized.
func (r Resolver) Resolve(ctx context.Context, l Link, want Type) (float64, error) {
	switch l.kind {
	case KindConstant:
		if want == Double {
			return l.constant, nil
		}

		return math.Trunc(l.constant), nil
	case KindReference:
		if r.Target == nil {
			return 0, &FetchError{Ref: l.ref, Err: ErrTargetNotFound}
		}

		fetched, err := r.Target.Fetch(ctx, r.Requester, l.ref)
		if err != nil {
			return 0, &FetchError{Ref: l.ref, Err: err}
		}

		value, err := Coerce(fetched, want)
		if err != nil {
			return 0, &FetchError{Ref: l.ref, Err: err}
		}

		return value, nil
	default:
		return 0, &FetchError{Err: ErrNotConfigured}
	}
}
