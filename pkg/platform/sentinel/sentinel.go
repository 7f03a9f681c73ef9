package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and provider adapters
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
//   - ErrNotFound: row or remote account does not exist
//   - ErrConflict: a conditional write lost to a concurrent writer
//   - ErrStale: an event older than what is already stored was offered
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backing store or remote system temporarily unreachable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStale        = errors.New("stale event")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
