// Package schedule computes when a workflow stage becomes eligible to run.
//
// It is a leaf package: pure functions over time values, no I/O.
package schedule

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// WaitUnit is the unit of a WaitConfig duration.
type WaitUnit string

const (
	UnitMinutes WaitUnit = "minutes"
	UnitHours   WaitUnit = "hours"
	UnitDays    WaitUnit = "days"
	UnitWeeks   WaitUnit = "weeks"
)

// Sentinel errors returned by validation and NextEligible.
var (
	ErrInvalidUnit     = errors.New("invalid wait unit")
	ErrNegativeWait    = errors.New("wait duration must not be negative")
	ErrEmptyWeekdays   = errors.New("time window has no allowed weekdays")
	ErrInvalidHours    = errors.New("time window hours out of range")
	ErrUnknownTimezone = errors.New("unknown time window timezone")
)

// WaitConfig is the delay applied before a stage executes.
type WaitConfig struct {
	Duration          int      `json:"duration"`
	Unit              WaitUnit `json:"unit"`
	RespectTimeWindow bool     `json:"respect_time_window"`
}

// Validate checks the wait duration and unit.
func (w WaitConfig) Validate() error {
	if w.Duration < 0 {
		return ErrNegativeWait
	}
	switch w.Unit {
	case UnitMinutes, UnitHours, UnitDays, UnitWeeks:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidUnit, w.Unit)
}

// Delay returns the wait as a time.Duration.
func (w WaitConfig) Delay() time.Duration {
	n := time.Duration(w.Duration)
	switch w.Unit {
	case UnitMinutes:
		return n * time.Minute
	case UnitHours:
		return n * time.Hour
	case UnitDays:
		return n * 24 * time.Hour
	case UnitWeeks:
		return n * 7 * 24 * time.Hour
	}
	return 0
}

// TimeWindow restricts sends to certain weekdays and hours in a timezone.
// EndHour is exclusive.
type TimeWindow struct {
	Weekdays  []time.Weekday `json:"weekdays"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	Timezone  string         `json:"timezone"`
}

// DefaultTimeWindow is business hours, Monday to Friday 09:00-17:00 UTC.
func DefaultTimeWindow() TimeWindow {
	return TimeWindow{
		Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour: 9,
		EndHour:   17,
		Timezone:  "UTC",
	}
}

// IsZero reports whether the window was left unset.
func (tw TimeWindow) IsZero() bool {
	return len(tw.Weekdays) == 0 && tw.StartHour == 0 && tw.EndHour == 0 && tw.Timezone == ""
}

// OrDefault returns the default window when tw is unset.
func (tw TimeWindow) OrDefault() TimeWindow {
	if tw.IsZero() {
		return DefaultTimeWindow()
	}
	return tw
}

// Validate rejects windows that could never be satisfied.
func (tw TimeWindow) Validate() error {
	if len(tw.Weekdays) == 0 {
		return ErrEmptyWeekdays
	}
	for _, d := range tw.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	if tw.StartHour < 0 || tw.StartHour > 23 || tw.EndHour < 1 || tw.EndHour > 24 || tw.StartHour >= tw.EndHour {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidHours, tw.StartHour, tw.EndHour)
	}
	if _, err := tw.location(); err != nil {
		return err
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (tw TimeWindow) Contains(t time.Time) bool {
	loc, err := tw.location()
	if err != nil {
		return false
	}
	local := t.In(loc)
	return tw.allowsDay(local.Weekday()) && local.Hour() >= tw.StartHour && local.Hour() < tw.EndHour
}

func (tw TimeWindow) allowsDay(d time.Weekday) bool {
	for _, w := range tw.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (tw TimeWindow) location() (*time.Location, error) {
	if tw.Timezone == "" || tw.Timezone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tw.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, tw.Timezone)
	}
	return loc, nil
}

// NextEligible returns the first instant at or after ref+wait that satisfies
// the window (when the wait respects it). The result is in UTC.
func NextEligible(ref time.Time, wait WaitConfig, window TimeWindow) (time.Time, error) {
	candidate := ref.Add(wait.Delay())
	if !wait.RespectTimeWindow {
		return candidate.UTC(), nil
	}
	window = window.OrDefault()
	if err := window.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, _ := window.location()
	local := candidate.In(loc)

	// Any miss, including an hour before the start on an allowed day, moves
	// to the next day's start hour. Eight steps cover a full week.
	for i := 0; i < 8; i++ {
		if window.allowsDay(local.Weekday()) && local.Hour() >= window.StartHour && local.Hour() < window.EndHour {
			return local.UTC(), nil
		}
		next := local.AddDate(0, 0, 1)
		local = time.Date(next.Year(), next.Month(), next.Day(), window.StartHour, 0, 0, 0, loc)
	}
	return time.Time{}, fmt.Errorf("no eligible instant within a week of %s", candidate.Format(time.RFC3339))
}
