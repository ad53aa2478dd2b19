// Package vdoerr defines the VDO-layer sentinel errors named in this design:
// the ref-count engine's protocol-violation and state-mismatch failures.
// Like internal/udserr, these are plain errors.New values meant to be
// compared with errors.Is after fmt.Errorf("...: %w", ...) wrapping, not a
// custom error type hierarchy — matching the plain-sentinel style the
// teacher uses for its own persistence errors (internal/ratelimiter/persistence).
package vdoerr

import "errors"

var (
	// ErrRefCountInvalid is returned when an adjustment would violate a
	// reference-counter protocol invariant (decrementing a FREE counter,
	// incrementing past MAX). This is never retried and always
	// drives the owning slab's VDO into read-only mode.
	ErrRefCountInvalid = errors.New("vdo: reference count invalid")

	// ErrInvalidAdminState is returned when an operation is invoked on a
	// slab or session in a state that forbids it.
	ErrInvalidAdminState = errors.New("vdo: invalid admin state")

	// ErrNoSpace is returned when a slab (or the depot as a whole) has no
	// free blocks available to allocate.
	ErrNoSpace = errors.New("vdo: no space")

	// ErrReadOnly is returned by reference-count adjustments
	// (refcount.Adjust, AdjustForRebuild and ReplayChange) against a slab
	// whose VDO has entered read-only mode.
	ErrReadOnly = errors.New("vdo: read-only mode")
)
