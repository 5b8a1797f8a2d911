package models

import "errors"

// Error taxonomy shared across the engine. Callers match with errors.Is;
// wrapped variants carry context via fmt.Errorf("...: %w", err).
var (
	// ErrValidation marks input rejected before any write reaches the
	// store (malformed date, non-positive dose amount).
	ErrValidation = errors.New("validation failed")

	// ErrWrite marks a transport or permission failure on a store write.
	// Writes get one automatic retry before this surfaces.
	ErrWrite = errors.New("write failed")

	// ErrNotFound marks an update or delete against an unknown record id.
	// Surfaced immediately, never retried.
	ErrNotFound = errors.New("record not found")

	// ErrSubscription marks a failed live subscription. The cache keeps
	// its last snapshot and offers a manual refresh.
	ErrSubscription = errors.New("subscription failed")

	// ErrAlreadyCheckedIn marks a repeat check-in attempt for a day that
	// already has a completed record.
	ErrAlreadyCheckedIn = errors.New("already checked in today")

	// ErrCheckInPending marks a check-in attempt while a write for today
	// is still in flight.
	ErrCheckInPending = errors.New("check-in already in progress")

	// ErrNoUser marks an operation attempted without an active session.
	ErrNoUser = errors.New("no authenticated user")
)
