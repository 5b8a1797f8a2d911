package models

import "fmt"

// DerivedStats holds the aggregates derived from a user's full record set.
// Never persisted; recomputed on every record-set change. Percentages are
// floating point; rounding happens at the presentation boundary only.
type DerivedStats struct {
	// TotalCompletedDays counts completed records over all time.
	TotalCompletedDays int `json:"totalCompletedDays"`

	// CurrentStreak counts consecutive completed days ending at today
	// (or yesterday, when today has no completed record yet).
	CurrentStreak int `json:"currentStreak"`

	// TotalDoseAmount sums DoseAmount over completed records.
	TotalDoseAmount int `json:"totalDoseAmount"`

	// AverageDoseAmount is TotalDoseAmount / TotalCompletedDays,
	// 0 when there are no completed records.
	AverageDoseAmount float64 `json:"averageDoseAmount"`

	// CompletionRate is the percentage of the trailing 30 calendar days
	// with a completed record, in [0, 100]. The denominator is fixed at
	// 30 regardless of account age.
	CompletionRate float64 `json:"completionRate"`
}

// MonthlyStats holds aggregates scoped to one calendar month.
type MonthlyStats struct {
	CompletedDays    int `json:"completedDays"`
	TotalDaysInMonth int `json:"totalDaysInMonth"`

	// Consistency is CompletedDays / TotalDaysInMonth × 100.
	// Exactly 100 for a fully completed month.
	Consistency float64 `json:"consistency"`

	TotalDoseAmount int `json:"totalDoseAmount"`

	// AverageDoseAmount is 0 when CompletedDays is 0.
	AverageDoseAmount float64 `json:"averageDoseAmount"`
}

// PeriodStats extends MonthlyStats with the best day of the period.
type PeriodStats struct {
	MonthlyStats

	// BestDay is the completed record with the highest DoseAmount, ties
	// broken by first-encountered order. Nil when the month has no
	// completed records.
	BestDay *DailyRecord `json:"bestDay,omitempty"`
}

// CheckInState is the derived state of the check-in gate.
type CheckInState int

const (
	// CheckInAvailable means no record exists for today and no write is
	// in flight. The only state in which a check-in is accepted.
	CheckInAvailable CheckInState = iota
	// CheckInPending means a write for today is in flight.
	CheckInPending
	// CheckInCompleted means today already has a completed record.
	CheckInCompleted
)

func (s CheckInState) String() string {
	switch s {
	case CheckInAvailable:
		return "available"
	case CheckInPending:
		return "pending"
	case CheckInCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its lowercase string form.
func (s CheckInState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the lowercase string form.
func (s *CheckInState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"available"`:
		*s = CheckInAvailable
	case `"pending"`:
		*s = CheckInPending
	case `"completed"`:
		*s = CheckInCompleted
	default:
		return fmt.Errorf("unknown check-in state %s", data)
	}
	return nil
}

// TodayContext is the gate's view of the current day, recomputed on every
// record-set change and on every day-boundary rollover.
type TodayContext struct {
	Date        string       `json:"date"`
	State       CheckInState `json:"state"`
	CanCheckIn  bool         `json:"canCheckIn"`
	IsCompleted bool         `json:"isCompleted"`
}
