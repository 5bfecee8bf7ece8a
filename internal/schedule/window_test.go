package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextEligible_NoWindow(t *testing.T) {
	ref := time.Date(2026, 3, 7, 22, 30, 0, 0, time.UTC) // Saturday
	got, err := NextEligible(ref, WaitConfig{Duration: 90, Unit: UnitMinutes}, TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, ref.Add(90*time.Minute), got)
}

func TestNextEligible_SaturdayRollsToMonday(t *testing.T) {
	ref := time.Date(2026, 3, 7, 10, 15, 42, 0, time.UTC) // Saturday
	got, err := NextEligible(ref, WaitConfig{Duration: 1, Unit: UnitDays, RespectTimeWindow: true}, DefaultTimeWindow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestNextEligible_InsideWindowUnchanged(t *testing.T) {
	ref := time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC) // Tuesday
	got, err := NextEligible(ref, WaitConfig{Duration: 2, Unit: UnitHours, RespectTimeWindow: true}, DefaultTimeWindow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC), got)
}

func TestNextEligible_EndHourExclusive(t *testing.T) {
	ref := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC) // Tuesday
	got, err := NextEligible(ref, WaitConfig{Duration: 1, Unit: UnitHours, RespectTimeWindow: true}, DefaultTimeWindow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), got)
}

func TestNextEligible_BeforeStartRollsToNextDay(t *testing.T) {
	ref := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC) // Monday
	got, err := NextEligible(ref, WaitConfig{Duration: 30, Unit: UnitMinutes, RespectTimeWindow: true}, DefaultTimeWindow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), got)

	// Friday early morning skips the weekend.
	ref = time.Date(2026, 3, 13, 5, 0, 0, 0, time.UTC)
	got, err = NextEligible(ref, WaitConfig{Duration: 1, Unit: UnitHours, RespectTimeWindow: true}, DefaultTimeWindow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), got)
}

func TestNextEligible_Timezone(t *testing.T) {
	window := TimeWindow{
		Weekdays:  []time.Weekday{time.Monday},
		StartHour: 8,
		EndHour:   12,
		Timezone:  "America/New_York",
	}
	ref := time.Date(2026, 6, 5, 18, 0, 0, 0, time.UTC) // Friday
	got, err := NextEligible(ref, WaitConfig{Duration: 0, Unit: UnitMinutes, RespectTimeWindow: true}, window)
	require.NoError(t, err)
	// Monday 08:00 EDT is 12:00 UTC.
	assert.Equal(t, time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC), got)
}

func TestNextEligible_PropertyAlwaysInsideWindow(t *testing.T) {
	windows := []TimeWindow{
		DefaultTimeWindow(),
		{Weekdays: []time.Weekday{time.Saturday}, StartHour: 0, EndHour: 1, Timezone: "UTC"},
		{Weekdays: []time.Weekday{time.Sunday, time.Wednesday}, StartHour: 20, EndHour: 24, Timezone: "Asia/Tokyo"},
	}
	units := []WaitUnit{UnitMinutes, UnitHours, UnitDays, UnitWeeks}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, w := range windows {
		for h := 0; h < 24*14; h += 7 {
			for i, u := range units {
				ref := start.Add(time.Duration(h) * time.Hour)
				got, err := NextEligible(ref, WaitConfig{Duration: i + 1, Unit: u, RespectTimeWindow: true}, w)
				require.NoError(t, err)
				assert.True(t, w.Contains(got), "window %+v ref %s got %s", w, ref, got)
				assert.False(t, got.Before(ref.Add(WaitConfig{Duration: i + 1, Unit: u}.Delay())))
			}
		}
	}
}

func TestTimeWindowValidate(t *testing.T) {
	tests := []struct {
		name    string
		window  TimeWindow
		wantErr error
	}{
		{"default ok", DefaultTimeWindow(), nil},
		{"empty weekdays", TimeWindow{StartHour: 9, EndHour: 17}, ErrEmptyWeekdays},
		{"start after end", TimeWindow{Weekdays: []time.Weekday{time.Monday}, StartHour: 18, EndHour: 9}, ErrInvalidHours},
		{"bad zone", TimeWindow{Weekdays: []time.Weekday{time.Monday}, StartHour: 9, EndHour: 17, Timezone: "Mars/Olympus"}, ErrUnknownTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNextEligible_RejectsEmptyWeekdays(t *testing.T) {
	_, err := NextEligible(time.Now(), WaitConfig{Duration: 1, Unit: UnitHours, RespectTimeWindow: true},
		TimeWindow{StartHour: 9, EndHour: 17, Timezone: "UTC"})
	assert.ErrorIs(t, err, ErrEmptyWeekdays)
}

func TestWaitConfigValidate(t *testing.T) {
	assert.NoError(t, WaitConfig{Duration: 3, Unit: UnitWeeks}.Validate())
	assert.ErrorIs(t, WaitConfig{Duration: 1, Unit: "fortnights"}.Validate(), ErrInvalidUnit)
	assert.ErrorIs(t, WaitConfig{Duration: -1, Unit: UnitDays}.Validate(), ErrNegativeWait)
}
