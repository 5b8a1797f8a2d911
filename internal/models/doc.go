// Package models defines the core domain models for dosetrack.
//
// # Models
//
//   - DailyRecord: one calendar day's ledger entry for a completed dose
//   - RecordPatch: partial update applied to an existing record
//   - DerivedStats, MonthlyStats, PeriodStats: aggregates recomputed from the
//     record set, never persisted
//   - TodayContext: the check-in gate's view of the current day
//   - SyncStatus: tri-state indicator of cache/store agreement
//
// # Design Principles
//
// 1. **Dates are strings**: records are keyed by an ISO calendar date
// ("2006-01-02") in the device's local time, not a timestamp. The day
// boundary is a product concept, not an instant.
// 2. **At most one record per (userID, date)**: enforced best-effort by
// callers checking before create; the store provides no atomic uniqueness
// (see internal/tracker).
// 3. **Stats are always recomputed**: aggregates are a pure function of the
// record set and are never written back to the store.
// 4. **Avoid circular references**: relationships use ID strings, not
// pointers.
package models
