package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmynk/dosetrack/internal/metrics"
	"github.com/mmynk/dosetrack/internal/models"
)

// TodayContext returns the gate's current view of today. Recomputed on
// every snapshot, sync transition and day rollover.
func (t *Tracker) TodayContext() models.TodayContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.today
}

// CheckIn records today's dose. It is the single enforcement point for the
// once-per-day rule:
//
//   - Completed (today already has a completed record): rejected with
//     models.ErrAlreadyCheckedIn; the stored record and sync status are
//     left untouched.
//   - Pending (a write is in flight): rejected with models.ErrCheckInPending.
//   - Available: the dose is validated, then today's record is created, or
//     completed in place if an incomplete one exists.
//
// Today's record is re-read through GetRecordByDate, so a confirmed write
// whose echo has not arrived yet still blocks a duplicate.
func (t *Tracker) CheckIn(ctx context.Context, doseAmount int, timeOfDay, notes string) (*models.DailyRecord, error) {
	t.mu.Lock()
	userID := t.userID
	pending := t.writeDepth > 0
	t.mu.Unlock()

	if userID == "" {
		return nil, models.ErrNoUser
	}
	if pending {
		metrics.CheckInsRejected.WithLabelValues("pending").Inc()
		return nil, models.ErrCheckInPending
	}
	if doseAmount <= 0 {
		return nil, fmt.Errorf("%w: dose amount must be positive", models.ErrValidation)
	}

	date := t.detector.Today()
	existing, err := t.GetRecordByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("check-in lookup failed: %w", err)
	}
	if existing != nil && existing.Completed {
		metrics.CheckInsRejected.WithLabelValues("completed").Inc()
		return nil, models.ErrAlreadyCheckedIn
	}

	completed := true
	if existing != nil {
		patch := models.RecordPatch{
			DoseAmount: &doseAmount,
			TimeOfDay:  &timeOfDay,
			Notes:      &notes,
			Completed:  &completed,
		}
		if err := t.UpdateRecord(ctx, existing.ID, patch); err != nil {
			return nil, err
		}
		record := *existing
		record.DoseAmount = doseAmount
		record.TimeOfDay = timeOfDay
		record.Notes = notes
		record.Completed = true
		metrics.CheckIns.Inc()
		slog.Info("check-in completed existing record", "user_id", userID, "date", date, "record_id", record.ID)
		return &record, nil
	}

	record, err := t.CreateRecord(ctx, models.DailyRecord{
		Date:       date,
		DoseAmount: doseAmount,
		TimeOfDay:  timeOfDay,
		Notes:      notes,
		Completed:  true,
	})
	if err != nil {
		return nil, err
	}
	metrics.CheckIns.Inc()
	slog.Info("check-in recorded", "user_id", userID, "date", date, "record_id", record.ID)
	return record, nil
}
