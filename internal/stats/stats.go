// Package stats derives aggregate statistics from a user's record set.
//
// Every function is pure: records in, numbers out, no clock access and no
// errors. Malformed or empty input yields zero-valued results, since derived
// stats are a display concern. Percentages stay floating point here;
// rounding belongs at the presentation boundary so errors never compound
// across derived metrics.
package stats

import (
	"time"

	"github.com/mmynk/dosetrack/internal/models"
)

// completionWindowDays is the fixed denominator for the completion rate.
// Independent of account age.
const completionWindowDays = 30

// Calculate computes the full DerivedStats for the record set, with "today"
// given as a models.DateLayout date string.
func Calculate(records []models.DailyRecord, today string) models.DerivedStats {
	var s models.DerivedStats
	for _, r := range records {
		if !r.Completed {
			continue
		}
		s.TotalCompletedDays++
		s.TotalDoseAmount += r.DoseAmount
	}
	if s.TotalCompletedDays > 0 {
		s.AverageDoseAmount = float64(s.TotalDoseAmount) / float64(s.TotalCompletedDays)
	}
	s.CurrentStreak = CurrentStreak(records, today)
	s.CompletionRate = CompletionRate(records, today)
	return s
}

// CurrentStreak walks backward from today one day at a time, counting
// consecutive completed days and stopping at the first gap. When today has
// no completed record yet, the walk starts at yesterday, so an unbroken run
// up to yesterday still counts.
func CurrentStreak(records []models.DailyRecord, today string) int {
	day, err := time.Parse(models.DateLayout, today)
	if err != nil {
		return 0
	}

	completed := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Completed {
			completed[r.Date] = true
		}
	}

	if !completed[today] {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for completed[day.Format(models.DateLayout)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// CompletionRate returns the percentage of the trailing 30 calendar days
// (ending at today, inclusive) with a completed record. Always in [0, 100]:
// duplicate dates inside the window cannot push it past the cap.
func CompletionRate(records []models.DailyRecord, today string) float64 {
	end, err := time.Parse(models.DateLayout, today)
	if err != nil {
		return 0
	}
	start := end.AddDate(0, 0, -completionWindowDays)

	days := make(map[string]bool)
	for _, r := range records {
		if !r.Completed {
			continue
		}
		d, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			continue
		}
		if !d.Before(start) && !d.After(end) {
			days[r.Date] = true
		}
	}

	rate := float64(len(days)) / completionWindowDays * 100
	if rate > 100 {
		rate = 100
	}
	return rate
}

// Monthly computes the aggregates for one calendar month.
func Monthly(records []models.DailyRecord, year int, month time.Month) models.MonthlyStats {
	s := models.MonthlyStats{
		// Day 0 of the next month is the last day of this one.
		TotalDaysInMonth: time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(),
	}

	for _, r := range records {
		d, err := time.Parse(models.DateLayout, r.Date)
		if err != nil || d.Year() != year || d.Month() != month {
			continue
		}
		if !r.Completed {
			continue
		}
		s.CompletedDays++
		s.TotalDoseAmount += r.DoseAmount
	}

	if s.CompletedDays > 0 {
		s.AverageDoseAmount = float64(s.TotalDoseAmount) / float64(s.CompletedDays)
	}
	if s.TotalDaysInMonth > 0 {
		s.Consistency = float64(s.CompletedDays) / float64(s.TotalDaysInMonth) * 100
	}
	return s
}

// Period computes the monthly aggregates plus the best day of the month:
// the completed record with the highest DoseAmount. Ties keep the first
// record encountered.
func Period(records []models.DailyRecord, year int, month time.Month) models.PeriodStats {
	p := models.PeriodStats{MonthlyStats: Monthly(records, year, month)}

	for i := range records {
		r := &records[i]
		if !r.Completed {
			continue
		}
		d, err := time.Parse(models.DateLayout, r.Date)
		if err != nil || d.Year() != year || d.Month() != month {
			continue
		}
		if p.BestDay == nil || r.DoseAmount > p.BestDay.DoseAmount {
			best := *r
			p.BestDay = &best
		}
	}
	return p
}
