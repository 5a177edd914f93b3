package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/signalintel/internal/types"
)

func gst(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, gulfStandardTime)
}

func TestIsWeekend_FridaySaturday(t *testing.T) {
	cal := NewUAE()
	start := gst(2025, time.January, 5)
	for i := 0; i < 21; i++ {
		d := start.AddDate(0, 0, i)
		want := d.Weekday() == time.Friday || d.Weekday() == time.Saturday
		assert.Equal(t, want, cal.IsWeekend(d), d.Format("2006-01-02 Mon"))
	}
}

func TestIsWeekend_UsesLocalDate(t *testing.T) {
	cal := NewUAE()
	// Thursday 21:00 UTC is already Friday in Dubai.
	d := time.Date(2025, time.January, 9, 21, 0, 0, 0, time.UTC)
	assert.True(t, cal.IsWeekend(d))
}

func TestPublicHoliday_MultiDay(t *testing.T) {
	cal := NewUAE()
	for _, d := range []time.Time{gst(2025, time.December, 2), gst(2025, time.December, 3)} {
		h, ok := cal.PublicHoliday(d)
		require.True(t, ok)
		assert.Equal(t, "National Day", h.Name)
	}
	assert.False(t, cal.IsPublicHoliday(gst(2025, time.December, 4)))
	assert.Len(t, cal.Holidays(2026), 6)
	assert.Empty(t, cal.Holidays(2031))
}

func TestRamadanDates(t *testing.T) {
	cal := NewUAE()
	p, err := cal.RamadanDates(2026)
	require.NoError(t, err)
	assert.Equal(t, 30, p.Days())
	assert.True(t, p.Contains(time.Date(2026, time.March, 19, 23, 0, 0, 0, gulfStandardTime)))
	assert.False(t, p.Contains(gst(2026, time.March, 20)))

	_, err = cal.RamadanDates(2031)
	assert.ErrorIs(t, err, types.ErrNoLunarData)
}

func TestIsRamadan_UnknownYear(t *testing.T) {
	cal := NewUAE()
	_, err := cal.IsRamadan(gst(2028, time.March, 1))
	assert.ErrorIs(t, err, types.ErrNoLunarData)
	_, err = cal.IsEid(gst(2028, time.March, 1))
	assert.ErrorIs(t, err, types.ErrNoLunarData)
}

func TestDayContext(t *testing.T) {
	cal := NewUAE()
	tests := []struct {
		name    string
		date    time.Time
		dayType DayType
		start   int
		end     int
		minutes int
	}{
		{"normal working", gst(2025, time.January, 6), DayNormalWorking, 10, 20, 600},
		{"ramadan working", gst(2025, time.March, 3), DayRamadanWorking, 9, 14, 300},
		{"ramadan weekend", gst(2025, time.March, 7), DayWeekend, 0, 0, 0},
		{"eid", gst(2025, time.March, 30), DayEid, 0, 0, 0},
		{"eid on weekend", gst(2025, time.June, 6), DayEid, 0, 0, 0},
		{"public holiday", gst(2025, time.December, 1), DayPublicHoliday, 0, 0, 0},
		{"weekend", gst(2025, time.January, 10), DayWeekend, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := cal.DayContext(tt.date)
			assert.Equal(t, tt.dayType, ctx.DayType)
			assert.Equal(t, tt.start, ctx.WorkStart)
			assert.Equal(t, tt.end, ctx.WorkEnd)
			assert.Equal(t, tt.minutes, ctx.WorkingMinutes)
			assert.True(t, ctx.LunarDataAvailable)

			start, end := cal.WorkingHours(tt.date)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
			assert.Equal(t, tt.minutes, cal.WorkingMinutes(tt.date))
		})
	}
}

func TestDayContext_NoLunarDataIsFlagged(t *testing.T) {
	cal := NewUAE()
	ctx := cal.DayContext(gst(2028, time.March, 1))
	assert.False(t, ctx.LunarDataAvailable)
	assert.Equal(t, DayNormalWorking, ctx.DayType)
	assert.Equal(t, 600, ctx.WorkingMinutes)
}

func TestSeason(t *testing.T) {
	cal := NewUAE()
	assert.Equal(t, SeasonQ4Close, cal.Season(gst(2025, time.November, 20)))
	assert.Equal(t, SeasonQ4Close, cal.Season(gst(2025, time.December, 31)))
	assert.Equal(t, SeasonNormal, cal.Season(gst(2025, time.November, 19)))
	assert.Equal(t, SeasonSummerSlowdown, cal.Season(gst(2025, time.July, 15)))
	assert.Equal(t, SeasonNormal, cal.Season(gst(2025, time.September, 1)))
}

func TestBusinessDaysBetween(t *testing.T) {
	cal := NewUAE()
	sun := gst(2025, time.January, 5)
	nextSun := gst(2025, time.January, 12)

	assert.Equal(t, 5, cal.BusinessDaysBetween(sun, nextSun))
	assert.Equal(t, -5, cal.BusinessDaysBetween(nextSun, sun))
	assert.Equal(t, 0, cal.BusinessDaysBetween(sun, sun))
	assert.Equal(t, 0, cal.BusinessDaysBetween(sun, sun.Add(6*time.Hour)))

	// New Year's Day is skipped.
	assert.Equal(t, 1, cal.BusinessDaysBetween(gst(2024, time.December, 31), gst(2025, time.January, 2)))
}

func TestBusinessDaysBetween_Antisymmetric(t *testing.T) {
	cal := NewUAE()
	base := gst(2025, time.February, 10)
	for i := -40; i <= 40; i += 3 {
		other := base.AddDate(0, 0, i)
		assert.Equal(t, -cal.BusinessDaysBetween(other, base), cal.BusinessDaysBetween(base, other))
	}
}

func TestAddBusinessDays(t *testing.T) {
	cal := NewUAE()
	thu := gst(2025, time.January, 9)
	assert.Equal(t, gst(2025, time.January, 12), cal.AddBusinessDays(thu, 1))
	assert.Equal(t, thu, cal.AddBusinessDays(gst(2025, time.January, 12), -1))
	assert.Equal(t, thu, cal.AddBusinessDays(thu, 0))
}

func TestAddBusinessDays_RoundTrip(t *testing.T) {
	cal := NewUAE()
	starts := map[string]time.Time{
		"monday":       gst(2025, time.January, 6),
		"friday":       gst(2025, time.January, 10),
		"saturday":     gst(2025, time.January, 11),
		"national day": gst(2025, time.December, 2),
		"eid":          gst(2025, time.March, 31),
	}
	for name, start := range starts {
		t.Run(name, func(t *testing.T) {
			for n := -30; n <= 30; n++ {
				got := cal.AddBusinessDays(start, n)
				assert.Equal(t, n, cal.BusinessDaysBetween(start, got), "n=%d", n)
				if n != 0 {
					assert.True(t, cal.IsWorkingDay(got), "n=%d lands on %s", n, got.Format("2006-01-02"))
				}
			}
		})
	}
}

func TestAddBusinessDays_BackwardsFromWeekend(t *testing.T) {
	cal := NewUAE()
	sat := gst(2025, time.January, 11)

	assert.Equal(t, gst(2025, time.January, 8), cal.AddBusinessDays(sat, -1))
	assert.Equal(t, gst(2025, time.January, 6), cal.AddBusinessDays(sat, -3))
	assert.Equal(t, gst(2025, time.January, 12), cal.AddBusinessDays(sat, 1))
}

func TestForLocale(t *testing.T) {
	cal, err := ForLocale("ae")
	require.NoError(t, err)
	assert.Equal(t, LocaleUAE, cal.Locale())

	_, err = ForLocale("us")
	var cfgErr *types.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "locale", cfgErr.Field)
}
