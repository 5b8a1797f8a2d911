// Package storage provides abstractions for persistent record storage.
package storage

import (
	"context"

	"github.com/mmynk/dosetrack/internal/models"
)

// SnapshotFunc receives the full current record set for a user. Each call
// is authoritative replacement state, never a diff: callers must discard
// whatever they held before.
type SnapshotFunc func(records []models.DailyRecord)

// Store defines the interface for daily-record storage operations.
// This abstraction allows swapping storage backends (SQLite, a hosted
// document store, etc.) without changing the tracker layer. The contract is
// a generic document store: field-equality queries by user and by
// user+date, store-assigned ids and write timestamps, and a live
// subscription delivering full snapshots on every change.
type Store interface {
	// CreateRecord persists a new record and populates ID, CreatedAt and
	// UpdatedAt. Uniqueness per (UserID, Date) is NOT enforced here.
	CreateRecord(ctx context.Context, record *models.DailyRecord) error

	// UpdateRecord applies a partial update to an existing record and
	// bumps UpdatedAt. Returns models.ErrNotFound for an unknown id.
	UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) error

	// DeleteRecord removes a record by id.
	// Returns models.ErrNotFound for an unknown id.
	DeleteRecord(ctx context.Context, id string) error

	// GetRecordByDate is a point lookup by (userID, date).
	// Returns (nil, nil) when no record exists for that date.
	GetRecordByDate(ctx context.Context, userID, date string) (*models.DailyRecord, error)

	// GetAllRecords returns the user's full record set, newest date first.
	GetAllRecords(ctx context.Context, userID string) ([]models.DailyRecord, error)

	// DeleteAllRecords removes every record for the user. This is the
	// only bulk erase path; individual lifecycles never mass-delete.
	DeleteAllRecords(ctx context.Context, userID string) error

	// Subscribe registers fn to receive the user's full record set
	// immediately and again after every change. The returned function
	// releases the subscription; it must be called on logout or user
	// switch, or the subscription leaks and can deliver one user's data
	// into another's cache. Calling it more than once is safe.
	Subscribe(userID string, fn SnapshotFunc) (unsubscribe func())

	// Close releases any resources held by the store.
	Close() error
}
