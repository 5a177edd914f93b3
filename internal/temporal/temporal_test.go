package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matthewbaird/signalintel/internal/calendar"
)

func newNormalizer() (*Normalizer, *time.Location) {
	cal := calendar.NewUAE()
	return New(cal), cal.Location()
}

func TestBusinessDaysLate(t *testing.T) {
	n, loc := newNormalizer()
	due := time.Date(2025, time.January, 5, 9, 0, 0, 0, loc)
	assert.Equal(t, 5, n.BusinessDaysLate(due, time.Date(2025, time.January, 12, 9, 0, 0, 0, loc)))
	assert.Equal(t, -5, n.BusinessDaysLate(time.Date(2025, time.January, 12, 9, 0, 0, 0, loc), due))
}

func TestBusinessHoursElapsed(t *testing.T) {
	n, loc := newNormalizer()
	at := func(d, h int) time.Time { return time.Date(2025, time.January, d, h, 0, 0, 0, loc) }

	assert.InDelta(t, 2.0, n.BusinessHoursElapsed(at(6, 9), at(6, 12)), 1e-9)
	assert.InDelta(t, 3.0, n.BusinessHoursElapsed(at(6, 18), at(7, 11)), 1e-9)
	// Thursday evening to Sunday morning skips Friday and Saturday.
	assert.InDelta(t, 2.0, n.BusinessHoursElapsed(at(9, 19), at(12, 11)), 1e-9)
	assert.Zero(t, n.BusinessHoursElapsed(at(7, 11), at(6, 18)))
}

func TestNormalizeAging_CrossesHolidays(t *testing.T) {
	n, loc := newNormalizer()
	aging := n.NormalizeAging(
		time.Date(2025, time.November, 30, 10, 0, 0, 0, loc),
		time.Date(2025, time.December, 7, 10, 0, 0, 0, loc),
	)
	assert.Equal(t, 7, aging.CalendarDays)
	assert.Equal(t, 2, aging.BusinessDays)
	assert.InDelta(t, 0.4, aging.BusinessWeeks, 1e-9)
	assert.Equal(t, []string{"Commemoration Day", "National Day"}, aging.HolidaysCrossed)
	assert.Zero(t, aging.RamadanDaysCrossed)
}

func TestNormalizeAging_Ramadan(t *testing.T) {
	n, loc := newNormalizer()
	aging := n.NormalizeAging(
		time.Date(2025, time.February, 28, 10, 0, 0, 0, loc),
		time.Date(2025, time.March, 5, 10, 0, 0, 0, loc),
	)
	assert.Equal(t, 5, aging.RamadanDaysCrossed)
	assert.Empty(t, aging.HolidaysCrossed)
}

func TestNormalizeAging_EndBeforeStart(t *testing.T) {
	n, loc := newNormalizer()
	aging := n.NormalizeAging(time.Date(2025, time.March, 5, 0, 0, 0, 0, loc), time.Date(2025, time.March, 1, 0, 0, 0, 0, loc))
	assert.Zero(t, aging.CalendarDays)
	assert.Zero(t, aging.BusinessDays)
}

func TestExpectedResponseTime(t *testing.T) {
	n, loc := newNormalizer()

	t.Run("spills into next working day", func(t *testing.T) {
		sent := time.Date(2025, time.January, 6, 18, 0, 0, 0, loc)
		exp := n.ExpectedResponseTime(sent, 4)
		assert.Equal(t, sent.Add(4*time.Hour), exp.CalendarDeadline)
		assert.Equal(t, time.Date(2025, time.January, 7, 12, 0, 0, 0, loc), exp.BusinessDeadline)
		assert.Empty(t, exp.Note)
	})

	t.Run("sent on weekend", func(t *testing.T) {
		sent := time.Date(2025, time.January, 10, 12, 0, 0, 0, loc)
		exp := n.ExpectedResponseTime(sent, 1)
		assert.Equal(t, time.Date(2025, time.January, 12, 11, 0, 0, 0, loc), exp.BusinessDeadline)
		assert.Contains(t, exp.Note, "weekend")
	})

	t.Run("ramadan hours", func(t *testing.T) {
		sent := time.Date(2025, time.March, 3, 13, 0, 0, 0, loc)
		exp := n.ExpectedResponseTime(sent, 2)
		assert.Equal(t, time.Date(2025, time.March, 4, 10, 0, 0, 0, loc), exp.BusinessDeadline)
		assert.Contains(t, exp.Note, "Ramadan")
	})

	t.Run("zero hours", func(t *testing.T) {
		sent := time.Date(2025, time.January, 6, 11, 0, 0, 0, loc)
		exp := n.ExpectedResponseTime(sent, 0)
		assert.Equal(t, sent, exp.BusinessDeadline)
	})
}

func TestTaskAgeWeighted(t *testing.T) {
	n, loc := newNormalizer()
	due := time.Date(2025, time.January, 5, 9, 0, 0, 0, loc)
	current := time.Date(2025, time.January, 12, 9, 0, 0, 0, loc)

	assert.InDelta(t, 1.25, n.TaskAgeWeighted(due, "in_progress", current), 1e-9)
	assert.Equal(t, 1.0, n.TaskAgeWeighted(due, "completed", current))
	assert.Equal(t, 1.0, n.TaskAgeWeighted(current, "open", due))
	assert.Equal(t, 2.0, n.TaskAgeWeighted(time.Date(2024, time.October, 1, 9, 0, 0, 0, loc), "open", current))
}

func TestDecayMultiplier(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{-day, 1.0},
		{0, 1.0},
		{29 * day, 1.0},
		{30 * day, 0.8},
		{89 * day, 0.8},
		{90 * day, 0.5},
		{179 * day, 0.5},
		{180 * day, 0.25},
		{365 * day, 0.25},
		{366 * day, 0.1},
		{400 * day, 0.1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecayMultiplier(tt.age), "age %v", tt.age)
	}

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.1, DecayMultiplierAt(now.AddDate(0, 0, -400), now))
}
