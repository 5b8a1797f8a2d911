// Package dayclock detects local calendar-date rollovers.
//
// "Today" is the device's local calendar date. A backgrounded process cannot
// rely on timers firing across midnight, so the detector checks on two
// triggers: a fixed interval while running, and an explicit Resume call from
// the host when the app returns to the foreground. Resume is the
// authoritative catch-up path. Any date mismatch (forward, backward, manual
// clock or timezone change) is treated as a rollover.
package dayclock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/dosetrack/internal/metrics"
	"github.com/mmynk/dosetrack/internal/models"
)

// DefaultInterval is how often the running detector re-checks the date.
const DefaultInterval = 60 * time.Second

// RolloverFunc is invoked with the new and previous date on every rollover.
type RolloverFunc func(newDate, oldDate string)

// Detector derives "today" from an injectable clock and emits rollover
// events. Safe for concurrent use.
type Detector struct {
	now      func() time.Time
	interval time.Duration

	mu       sync.Mutex
	current  string
	onChange []RolloverFunc
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the wall clock, making rollovers deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithInterval overrides the periodic check interval.
func WithInterval(interval time.Duration) Option {
	return func(d *Detector) { d.interval = interval }
}

// New creates a detector initialized to the clock's current date.
func New(opts ...Option) *Detector {
	d := &Detector{
		now:      time.Now,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.current = d.now().Format(models.DateLayout)
	return d
}

// Today returns the last observed local calendar date.
func (d *Detector) Today() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// OnRollover registers fn to be called on every detected date change.
// Callbacks run on the goroutine that detected the change.
func (d *Detector) OnRollover(fn RolloverFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = append(d.onChange, fn)
}

// Run checks for rollovers on the configured interval until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.check()
		}
	}
}

// Resume performs an immediate check. The host calls this on every
// app-foreground event; it is the path that catches rollovers the interval
// timer slept through.
func (d *Detector) Resume() {
	d.check()
}

func (d *Detector) check() {
	newDate := d.now().Format(models.DateLayout)

	d.mu.Lock()
	if newDate == d.current {
		d.mu.Unlock()
		return
	}
	oldDate := d.current
	d.current = newDate
	fns := make([]RolloverFunc, len(d.onChange))
	copy(fns, d.onChange)
	d.mu.Unlock()

	slog.Info("day rollover detected", "old_date", oldDate, "new_date", newDate)
	metrics.Rollovers.Inc()
	for _, fn := range fns {
		fn(newDate, oldDate)
	}
}

// TimeUntilMidnight returns the duration until the next local midnight.
// Display only; rollover detection never depends on it.
func (d *Detector) TimeUntilMidnight() time.Duration {
	now := d.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return midnight.Sub(now)
}

// FormatCountdown renders a duration as "2h 13m", or "13m" under an hour.
func FormatCountdown(remaining time.Duration) string {
	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
