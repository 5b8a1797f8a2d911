package service

import (
	"github.com/mmynk/dosetrack/internal/models"
	"github.com/mmynk/dosetrack/internal/tracker"
)

// Wire types for the TrackerService procedures. Plain structs serialized
// by the JSON codec; see codec.go.

// LoginRequest begins a session for an externally established identity.
// The user id is opaque to the engine.
type LoginRequest struct {
	UserID string `json:"userId"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type CheckInRequest struct {
	DoseAmount int    `json:"doseAmount"`
	TimeOfDay  string `json:"timeOfDay"`
	Notes      string `json:"notes,omitempty"`
}

type CheckInResponse struct {
	Record *models.DailyRecord `json:"record"`
	Today  models.TodayContext `json:"today"`
}

type GetTodayRequest struct{}

type GetTodayResponse struct {
	Today models.TodayContext `json:"today"`

	// UntilMidnight is a display-only countdown like "2h 13m".
	UntilMidnight string `json:"untilMidnight"`
}

// ResumeRequest is sent by the host on every app-foreground event; it is
// the authoritative catch-up trigger for day rollovers.
type ResumeRequest struct{}

type ResumeResponse struct {
	Today         models.TodayContext `json:"today"`
	UntilMidnight string              `json:"untilMidnight"`
}

type GetStatsRequest struct{}

type GetStatsResponse struct {
	Stats models.DerivedStats `json:"stats"`
}

type GetMonthlyStatsRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"` // 1–12
}

type GetMonthlyStatsResponse struct {
	Stats models.PeriodStats `json:"stats"`
}

type ListRecordsRequest struct{}

type ListRecordsResponse struct {
	State tracker.State `json:"state"`
}

type CreateRecordRequest struct {
	Date       string `json:"date"`
	DoseAmount int    `json:"doseAmount"`
	TimeOfDay  string `json:"timeOfDay"`
	Notes      string `json:"notes,omitempty"`
	Completed  bool   `json:"completed"`
}

type CreateRecordResponse struct {
	Record *models.DailyRecord `json:"record"`
}

type UpdateRecordRequest struct {
	ID    string             `json:"id"`
	Patch models.RecordPatch `json:"patch"`
}

type UpdateRecordResponse struct{}

type DeleteRecordRequest struct {
	ID string `json:"id"`
}

type DeleteRecordResponse struct{}

type EraseAllRequest struct{}

type EraseAllResponse struct{}

type RefreshRequest struct{}

type RefreshResponse struct {
	State tracker.State `json:"state"`
}

type ExportRecordsRequest struct{}

// ExportRecordsResponse is a portable backup of the caller's full ledger.
// Feeding it back through ImportRecords restores the record set.
type ExportRecordsResponse struct {
	Records    []models.DailyRecord `json:"records"`
	Count      int                  `json:"count"`
	ExportedAt int64                `json:"exportedAt"`
}

type ImportRecordsRequest struct {
	Records []models.DailyRecord `json:"records"`

	// Replace erases the existing ledger before importing. When false,
	// dates that already hold a record are skipped.
	Replace bool `json:"replace,omitempty"`
}

type ImportRecordsResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type WatchRecordsRequest struct{}

// Snapshot is one full-record-set push. Each message replaces everything
// the client held before; there are no diffs.
type Snapshot struct {
	Records []models.DailyRecord `json:"records"`
}
