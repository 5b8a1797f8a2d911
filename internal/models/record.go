package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
// Records are keyed by local calendar date, never by timestamp.
const DateLayout = "2006-01-02"

// DailyRecord represents one calendar day's dose entry for a user.
// At most one record should exist per (UserID, Date); the store does not
// enforce this atomically, so callers must check before creating.
type DailyRecord struct {
	// ID is the store-assigned unique identifier (UUID format).
	ID string `json:"id"`

	// UserID is the opaque stable identifier from the identity provider.
	UserID string `json:"userId"`

	// Date is the local calendar date this record belongs to, in
	// DateLayout format. Unique per user by convention.
	Date string `json:"date"`

	// DoseAmount is the number of units taken. Always positive for a
	// valid record.
	DoseAmount int `json:"doseAmount"`

	// TimeOfDay is free text describing when the dose was taken
	// (e.g. "09:15"). Display only.
	TimeOfDay string `json:"timeOfDay"`

	// Notes is optional free text.
	Notes string `json:"notes,omitempty"`

	// Completed reports whether the day's dose was actually taken.
	Completed bool `json:"completed"`

	// CreatedAt and UpdatedAt are store-assigned Unix timestamps.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// RecordPatch is a partial update to an existing record. Nil fields are
// left unchanged. UpdatedAt is always bumped by the store.
type RecordPatch struct {
	DoseAmount *int    `json:"doseAmount,omitempty"`
	TimeOfDay  *string `json:"timeOfDay,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	Completed  *bool   `json:"completed,omitempty"`
}

// ValidDate reports whether s is a well-formed calendar date in DateLayout.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// SyncStatus is the tri-state indicator of whether the local cache matches
// the store's last-known state. One value per active session.
type SyncStatus int

const (
	// SyncSynced means the cache reflects the store's last-known state.
	SyncSynced SyncStatus = iota
	// SyncSyncing means a write is in flight.
	SyncSyncing
	// SyncError means the last write failed after its automatic retry;
	// user action (retry, refresh) is required.
	SyncError
)

func (s SyncStatus) String() string {
	switch s {
	case SyncSynced:
		return "synced"
	case SyncSyncing:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its lowercase string form.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the lowercase string form.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"synced"`:
		*s = SyncSynced
	case `"syncing"`:
		*s = SyncSyncing
	case `"error"`:
		*s = SyncError
	default:
		return fmt.Errorf("unknown sync status %s", data)
	}
	return nil
}
