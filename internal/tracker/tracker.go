// Package tracker owns the in-memory mirror of a user's record set and
// keeps it synchronized with the durable store.
//
// The cache is fed exclusively by the store's live subscription: every
// callback carries the full record set and replaces the mirror wholesale,
// so out-of-order delivery cannot corrupt state; the last snapshot always
// wins. Writes go straight to the store and are confirmed by the
// subscription echo; the cache is never optimistically patched.
//
// Business logic is effectively single-threaded: the one genuinely
// concurrent actor is the subscription goroutine, so a single mutex guards
// the mirror and the derived state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/dosetrack/internal/dayclock"
	"github.com/mmynk/dosetrack/internal/metrics"
	"github.com/mmynk/dosetrack/internal/models"
	"github.com/mmynk/dosetrack/internal/stats"
	"github.com/mmynk/dosetrack/internal/storage"
)

// DefaultRetryDelay is the fixed pause before the single automatic retry
// of a failed write. No backoff, no retry-count knob: one retry, then the
// failure surfaces as user-actionable.
const DefaultRetryDelay = 2 * time.Second

// State is the reactive view exposed to the UI layer.
type State struct {
	Records    []models.DailyRecord `json:"records"`
	Loading    bool                 `json:"loading"`
	Error      string               `json:"error,omitempty"`
	SyncStatus models.SyncStatus    `json:"syncStatus"`
}

// Tracker is the record cache & sync controller for one user session.
type Tracker struct {
	store      storage.Store
	detector   *dayclock.Detector
	retryDelay time.Duration

	mu          sync.Mutex
	gen         int // session generation; stale snapshots are dropped
	userID      string
	records     []models.DailyRecord
	loading     bool
	lastErr     error
	syncStatus  models.SyncStatus
	writeDepth  int
	stats       models.DerivedStats
	today       models.TodayContext
	unsubscribe func()
	onChange    []func()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetryDelay overrides the pause before the automatic write retry.
func WithRetryDelay(d time.Duration) Option {
	return func(t *Tracker) { t.retryDelay = d }
}

// New creates a tracker bound to a store and a day-boundary detector.
// The tracker is idle until Start is called with a user id.
func New(store storage.Store, detector *dayclock.Detector, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		detector:   detector,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	detector.OnRollover(t.handleRollover)
	t.recompute()
	return t
}

// Start begins a session for userID: clears any previous session, then
// subscribes to the store's live snapshot push. The initial snapshot is
// applied before Start returns.
func (t *Tracker) Start(userID string) error {
	if userID == "" {
		return models.ErrNoUser
	}
	t.Stop()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.userID = userID
	t.loading = true
	t.lastErr = nil
	t.syncStatus = models.SyncSynced
	t.records = nil
	t.mu.Unlock()

	unsub := t.store.Subscribe(userID, func(records []models.DailyRecord) {
		t.applySnapshot(gen, records)
	})

	t.mu.Lock()
	if t.gen != gen {
		// Session was torn down while we were subscribing.
		t.mu.Unlock()
		unsub()
		return nil
	}
	t.unsubscribe = unsub
	t.mu.Unlock()

	slog.Info("tracker session started", "user_id", userID)
	return nil
}

// Stop tears the session down deterministically: the subscription is
// released and the cache cleared, so a later session for another user can
// never receive this user's data.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	userID := t.userID
	t.gen++
	t.userID = ""
	t.records = nil
	t.loading = false
	t.lastErr = nil
	t.syncStatus = models.SyncSynced
	t.recomputeLocked()
	fns := t.changeFnsLocked()
	t.mu.Unlock()

	if unsub != nil {
		unsub()
		slog.Info("tracker session stopped", "user_id", userID)
	}
	notify(fns)
}

// OnChange registers fn to run after every state change (snapshot applied,
// sync status transition, rollover). Callbacks must not call back into the
// tracker's write methods.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// State returns the reactive view for the UI layer. The record slice is a
// copy; callers may hold it across updates.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{
		Records:    make([]models.DailyRecord, len(t.records)),
		Loading:    t.loading,
		SyncStatus: t.syncStatus,
	}
	copy(s.Records, t.records)
	if t.lastErr != nil {
		s.Error = t.lastErr.Error()
	}
	return s
}

// Stats returns the aggregates derived from the current mirror.
func (t *Tracker) Stats() models.DerivedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// MonthlyStats computes period aggregates for the given month from the
// current mirror.
func (t *Tracker) MonthlyStats(year int, month time.Month) models.PeriodStats {
	t.mu.Lock()
	records := make([]models.DailyRecord, len(t.records))
	copy(records, t.records)
	t.mu.Unlock()
	return stats.Period(records, year, month)
}

// CreateRecord validates and persists a new record for the active user.
// Callers wanting the one-per-day invariant must check GetRecordByDate
// first: the store is eventually consistent, so a concurrent create for the
// same date can still slip through (accepted, documented risk).
func (t *Tracker) CreateRecord(ctx context.Context, record models.DailyRecord) (*models.DailyRecord, error) {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()
	if userID == "" {
		return nil, models.ErrNoUser
	}
	record.UserID = userID

	if !models.ValidDate(record.Date) {
		return nil, fmt.Errorf("%w: malformed date %q", models.ErrValidation, record.Date)
	}
	if record.DoseAmount <= 0 {
		return nil, fmt.Errorf("%w: dose amount must be positive", models.ErrValidation)
	}

	if err := t.write(ctx, func() error {
		return t.store.CreateRecord(ctx, &record)
	}); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateRecord applies a partial update. The mirror is NOT patched locally;
// the authoritative state arrives via the subscription echo, so the UI may
// briefly lag a confirmed write. Callers needing instant feedback track
// their own pending flag.
func (t *Tracker) UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) error {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()
	if userID == "" {
		return models.ErrNoUser
	}
	if patch.DoseAmount != nil && *patch.DoseAmount <= 0 {
		return fmt.Errorf("%w: dose amount must be positive", models.ErrValidation)
	}

	return t.write(ctx, func() error {
		return t.store.UpdateRecord(ctx, id, patch)
	})
}

// DeleteRecord removes a single record.
func (t *Tracker) DeleteRecord(ctx context.Context, id string) error {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()
	if userID == "" {
		return models.ErrNoUser
	}
	return t.write(ctx, func() error {
		return t.store.DeleteRecord(ctx, id)
	})
}

// EraseAll removes every record for the active user. The only bulk delete.
func (t *Tracker) EraseAll(ctx context.Context) error {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()
	if userID == "" {
		return models.ErrNoUser
	}
	return t.write(ctx, func() error {
		return t.store.DeleteAllRecords(ctx, userID)
	})
}

// ImportRecords replays a previously exported record set into the active
// user's ledger. Every record is validated up front; nothing is written if
// any entry is malformed. Dates that already hold a record are skipped, so
// re-importing the same export cannot produce duplicates. With replace set,
// the existing ledger is erased first.
func (t *Tracker) ImportRecords(ctx context.Context, records []models.DailyRecord, replace bool) (imported, skipped int, err error) {
	t.mu.Lock()
	userID := t.userID
	t.mu.Unlock()
	if userID == "" {
		return 0, 0, models.ErrNoUser
	}

	for i := range records {
		r := &records[i]
		if !models.ValidDate(r.Date) {
			return 0, 0, fmt.Errorf("%w: malformed date %q", models.ErrValidation, r.Date)
		}
		if r.DoseAmount <= 0 {
			return 0, 0, fmt.Errorf("%w: dose amount must be positive for %s", models.ErrValidation, r.Date)
		}
	}

	if replace {
		if err := t.EraseAll(ctx); err != nil {
			return 0, 0, err
		}
	}

	for i := range records {
		r := records[i]
		existing, err := t.GetRecordByDate(ctx, r.Date)
		if err != nil {
			return imported, skipped, err
		}
		if existing != nil {
			skipped++
			continue
		}
		if _, err := t.CreateRecord(ctx, models.DailyRecord{
			Date:       r.Date,
			DoseAmount: r.DoseAmount,
			TimeOfDay:  r.TimeOfDay,
			Notes:      r.Notes,
			Completed:  r.Completed,
		}); err != nil {
			return imported, skipped, err
		}
		imported++
	}

	slog.Info("record import finished", "user_id", userID, "imported", imported, "skipped", skipped, "replace", replace)
	return imported, skipped, nil
}

// GetRecordByDate looks up a record cache-first, falling back to a store
// point query. The fallback covers a confirmed write whose subscription
// echo has not arrived yet.
func (t *Tracker) GetRecordByDate(ctx context.Context, date string) (*models.DailyRecord, error) {
	t.mu.Lock()
	for i := range t.records {
		if t.records[i].Date == date {
			record := t.records[i]
			t.mu.Unlock()
			return &record, nil
		}
	}
	userID := t.userID
	t.mu.Unlock()

	if userID == "" {
		return nil, models.ErrNoUser
	}
	return t.store.GetRecordByDate(ctx, userID, date)
}

// Refresh forces a full non-subscribed re-fetch, replacing the mirror
// wholesale. This is the manual recovery path after a sync error.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	userID := t.userID
	gen := t.gen
	t.mu.Unlock()
	if userID == "" {
		return models.ErrNoUser
	}

	records, err := t.store.GetAllRecords(ctx, userID)
	if err != nil {
		t.mu.Lock()
		t.lastErr = fmt.Errorf("%w: refresh: %v", models.ErrSubscription, err)
		t.syncStatus = models.SyncError
		metrics.SetSyncStatus(t.syncStatus)
		fns := t.changeFnsLocked()
		t.mu.Unlock()
		notify(fns)
		return fmt.Errorf("refresh failed: %w", err)
	}

	t.applySnapshot(gen, records)
	return nil
}

// applySnapshot replaces the mirror wholesale with the pushed record set.
// Snapshots from a torn-down session are dropped.
func (t *Tracker) applySnapshot(gen int, records []models.DailyRecord) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.records = records
	t.loading = false
	if t.writeDepth == 0 {
		t.syncStatus = models.SyncSynced
		t.lastErr = nil
		metrics.SetSyncStatus(t.syncStatus)
	}
	t.recomputeLocked()
	fns := t.changeFnsLocked()
	t.mu.Unlock()

	notify(fns)
}

// write runs op under the sync status machine:
// synced → syncing → synced, or → error after one automatic retry.
func (t *Tracker) write(ctx context.Context, op func() error) error {
	t.beginWrite()

	err := op()
	if err != nil && retryable(err) {
		slog.Warn("store write failed, retrying once", "error", err, "delay", t.retryDelay)
		metrics.WriteRetries.Inc()
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(t.retryDelay):
			err = op()
		}
	}

	t.endWrite(err)
	return err
}

func (t *Tracker) beginWrite() {
	t.mu.Lock()
	t.writeDepth++
	t.syncStatus = models.SyncSyncing
	metrics.SetSyncStatus(t.syncStatus)
	t.recomputeLocked()
	fns := t.changeFnsLocked()
	t.mu.Unlock()
	notify(fns)
}

func (t *Tracker) endWrite(err error) {
	t.mu.Lock()
	t.writeDepth--
	if err != nil {
		t.lastErr = err
		t.syncStatus = models.SyncError
		metrics.WriteFailures.Inc()
		slog.Error("store write failed after retry", "error", err)
	} else if t.writeDepth == 0 {
		t.lastErr = nil
		t.syncStatus = models.SyncSynced
	}
	metrics.SetSyncStatus(t.syncStatus)
	t.recomputeLocked()
	fns := t.changeFnsLocked()
	t.mu.Unlock()
	notify(fns)
}

// handleRollover re-derives the day-scoped state unconditionally so
// yesterday's Completed cannot leak into today.
func (t *Tracker) handleRollover(newDate, oldDate string) {
	t.mu.Lock()
	if t.userID == "" {
		t.mu.Unlock()
		return
	}
	t.recomputeLocked()
	fns := t.changeFnsLocked()
	t.mu.Unlock()

	slog.Info("re-derived today context after rollover", "old_date", oldDate, "new_date", newDate)
	notify(fns)
}

func (t *Tracker) recompute() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recomputeLocked()
}

// recomputeLocked re-derives stats and today context from the mirror.
// Caller holds t.mu.
func (t *Tracker) recomputeLocked() {
	today := t.detector.Today()
	t.stats = stats.Calculate(t.records, today)

	ctx := models.TodayContext{Date: today}
	for i := range t.records {
		if t.records[i].Date == today && t.records[i].Completed {
			ctx.IsCompleted = true
			break
		}
	}
	switch {
	case ctx.IsCompleted:
		ctx.State = models.CheckInCompleted
	case t.writeDepth > 0:
		ctx.State = models.CheckInPending
	default:
		ctx.State = models.CheckInAvailable
		ctx.CanCheckIn = true
	}
	t.today = ctx
}

func (t *Tracker) changeFnsLocked() []func() {
	fns := make([]func(), len(t.onChange))
	copy(fns, t.onChange)
	return fns
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// retryable reports whether a write failure gets the automatic retry.
// Validation never reaches the store; not-found is surfaced immediately.
func retryable(err error) bool {
	return !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrValidation)
}
