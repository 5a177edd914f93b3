// Package calendar classifies dates for a business locale: weekends, public
// holidays, Ramadan and Eid, working hours, and business-day arithmetic.
//
// All methods interpret a time.Time by its civil date in the calendar's
// location. Lunar periods are looked up from per-year tables; a year with no
// table yields types.ErrNoLunarData rather than a guess.
package calendar

import (
	"fmt"
	"time"

	"github.com/matthewbaird/signalintel/internal/types"
)

// DayType is the single classification of a date after precedence is applied.
type DayType string

const (
	DayEid            DayType = "eid"
	DayPublicHoliday  DayType = "public_holiday"
	DayWeekend        DayType = "weekend"
	DayRamadanWorking DayType = "ramadan_working"
	DayNormalWorking  DayType = "normal_working"
)

// Season is an advisory business season. It never feeds arithmetic.
type Season string

const (
	SeasonNormal         Season = "normal"
	SeasonQ4Close        Season = "q4_close"
	SeasonSummerSlowdown Season = "summer_slowdown"
)

// Holiday is one public holiday, possibly spanning several days.
type Holiday struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Period is an inclusive date range.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether d's civil date falls within the period.
func (p Period) Contains(d time.Time) bool {
	d = d.In(p.Start.Location())
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns the number of dates in the period.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// DayContext aggregates every classification of one date.
type DayContext struct {
	Date               time.Time `json:"date"`
	DayType            DayType   `json:"day_type"`
	IsWeekend          bool      `json:"is_weekend"`
	IsPublicHoliday    bool      `json:"is_public_holiday"`
	HolidayName        string    `json:"holiday_name,omitempty"`
	IsRamadan          bool      `json:"is_ramadan"`
	IsEid              bool      `json:"is_eid"`
	LunarDataAvailable bool      `json:"lunar_data_available"`
	Season             Season    `json:"season"`
	WorkStart          int       `json:"work_start"`
	WorkEnd            int       `json:"work_end"`
	WorkingMinutes     int       `json:"working_minutes"`
}

// IsWorkingDay reports whether the date has a working window.
func (c DayContext) IsWorkingDay() bool {
	return c.WorkingMinutes > 0
}

// civilDay encodes a date as yyyymmdd so table spans compare as integers.
type civilDay int

func day(y int, m time.Month, d int) civilDay {
	return civilDay(y*10000 + int(m)*100 + d)
}

type holidaySpan struct {
	Name  string
	Start civilDay
	End   civilDay
}

type civilSpan struct {
	Start civilDay
	End   civilDay
}

func span(start, end civilDay) civilSpan {
	return civilSpan{Start: start, End: end}
}

func (s civilSpan) contains(d civilDay) bool {
	return d >= s.Start && d <= s.End
}

type lunarYear struct {
	Ramadan civilSpan
	EidFitr civilSpan
	EidAdha civilSpan
}

type workingHours struct {
	Normal  [2]int
	Ramadan [2]int
}

// Calendar classifies dates for one locale. It is immutable and safe for
// concurrent use.
type Calendar struct {
	locale   string
	loc      *time.Location
	weekend  map[time.Weekday]bool
	holidays map[int][]holidaySpan
	lunar    map[int]lunarYear
	hours    workingHours
}

// ForLocale returns the calendar for locale. An empty locale selects the UAE.
func ForLocale(locale string) (*Calendar, error) {
	switch locale {
	case "", LocaleUAE:
		return newUAE(), nil
	default:
		return nil, &types.ConfigurationError{
			Component: "calendar",
			Field:     "locale",
			Reason:    fmt.Sprintf("unsupported locale %q", locale),
		}
	}
}

// NewUAE returns the UAE calendar.
func NewUAE() *Calendar {
	return newUAE()
}

// Locale returns the locale code.
func (c *Calendar) Locale() string { return c.locale }

// Location returns the time zone civil dates are taken in.
func (c *Calendar) Location() *time.Location { return c.loc }

// Date returns midnight of t's civil date in the calendar's location.
func (c *Calendar) Date(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Calendar) civil(t time.Time) civilDay {
	t = t.In(c.loc)
	return day(t.Year(), t.Month(), t.Day())
}

func (c *Calendar) fromCivil(d civilDay) time.Time {
	y := int(d) / 10000
	m := time.Month(int(d) / 100 % 100)
	return time.Date(y, m, int(d)%100, 0, 0, 0, 0, c.loc)
}

func (c *Calendar) period(s civilSpan) Period {
	return Period{Start: c.fromCivil(s.Start), End: c.fromCivil(s.End)}
}

// IsWeekend reports whether d falls on the locale's weekend.
func (c *Calendar) IsWeekend(d time.Time) bool {
	return c.weekend[d.In(c.loc).Weekday()]
}

// PublicHoliday returns the holiday covering d, if any.
func (c *Calendar) PublicHoliday(d time.Time) (Holiday, bool) {
	cd := c.civil(d)
	for _, h := range c.holidays[d.In(c.loc).Year()] {
		if cd >= h.Start && cd <= h.End {
			return Holiday{Name: h.Name, Start: c.fromCivil(h.Start), End: c.fromCivil(h.End)}, true
		}
	}
	return Holiday{}, false
}

// IsPublicHoliday reports whether d is a public holiday.
func (c *Calendar) IsPublicHoliday(d time.Time) bool {
	_, ok := c.PublicHoliday(d)
	return ok
}

// Holidays returns the holiday table for year in date order.
func (c *Calendar) Holidays(year int) []Holiday {
	spans := c.holidays[year]
	out := make([]Holiday, 0, len(spans))
	for _, h := range spans {
		out = append(out, Holiday{Name: h.Name, Start: c.fromCivil(h.Start), End: c.fromCivil(h.End)})
	}
	return out
}

func (c *Calendar) lunarYear(year int) (lunarYear, error) {
	ly, ok := c.lunar[year]
	if !ok {
		return lunarYear{}, fmt.Errorf("calendar %s %d: %w", c.locale, year, types.ErrNoLunarData)
	}
	return ly, nil
}

// RamadanDates returns the Ramadan period starting in year.
func (c *Calendar) RamadanDates(year int) (Period, error) {
	ly, err := c.lunarYear(year)
	if err != nil {
		return Period{}, err
	}
	return c.period(ly.Ramadan), nil
}

// IsRamadan reports whether d falls in Ramadan.
func (c *Calendar) IsRamadan(d time.Time) (bool, error) {
	ly, err := c.lunarYear(d.In(c.loc).Year())
	if err != nil {
		return false, err
	}
	return ly.Ramadan.contains(c.civil(d)), nil
}

// IsEid reports whether d falls in Eid al-Fitr or Eid al-Adha.
func (c *Calendar) IsEid(d time.Time) (bool, error) {
	ly, err := c.lunarYear(d.In(c.loc).Year())
	if err != nil {
		return false, err
	}
	cd := c.civil(d)
	return ly.EidFitr.contains(cd) || ly.EidAdha.contains(cd), nil
}

// Season returns the advisory season of d.
func (c *Calendar) Season(d time.Time) Season {
	d = d.In(c.loc)
	switch {
	case d.Month() == time.December, d.Month() == time.November && d.Day() >= 20:
		return SeasonQ4Close
	case d.Month() == time.July, d.Month() == time.August:
		return SeasonSummerSlowdown
	default:
		return SeasonNormal
	}
}

// DayContext classifies d. Eid takes precedence over public holidays, then
// weekend, then Ramadan working days. For a year without lunar data the day
// is classified as if it were outside Ramadan and Eid, and
// LunarDataAvailable is false.
func (c *Calendar) DayContext(d time.Time) DayContext {
	ctx := DayContext{
		Date:               c.Date(d),
		IsWeekend:          c.IsWeekend(d),
		LunarDataAvailable: true,
		Season:             c.Season(d),
	}
	if h, ok := c.PublicHoliday(d); ok {
		ctx.IsPublicHoliday = true
		ctx.HolidayName = h.Name
	}
	eid, err := c.IsEid(d)
	if err != nil {
		ctx.LunarDataAvailable = false
	}
	ctx.IsEid = eid
	ctx.IsRamadan, _ = c.IsRamadan(d)

	switch {
	case ctx.IsEid:
		ctx.DayType = DayEid
	case ctx.IsPublicHoliday:
		ctx.DayType = DayPublicHoliday
	case ctx.IsWeekend:
		ctx.DayType = DayWeekend
	case ctx.IsRamadan:
		ctx.DayType = DayRamadanWorking
		ctx.WorkStart, ctx.WorkEnd = c.hours.Ramadan[0], c.hours.Ramadan[1]
	default:
		ctx.DayType = DayNormalWorking
		ctx.WorkStart, ctx.WorkEnd = c.hours.Normal[0], c.hours.Normal[1]
	}
	ctx.WorkingMinutes = (ctx.WorkEnd - ctx.WorkStart) * 60
	return ctx
}

// WorkingHours returns the working window of d as start and end hours.
// Non-working days return (0, 0).
func (c *Calendar) WorkingHours(d time.Time) (start, end int) {
	ctx := c.DayContext(d)
	return ctx.WorkStart, ctx.WorkEnd
}

// WorkingMinutes returns the length of d's working window in minutes.
func (c *Calendar) WorkingMinutes(d time.Time) int {
	return c.DayContext(d).WorkingMinutes
}

// IsWorkingDay reports whether d has a working window.
func (c *Calendar) IsWorkingDay(d time.Time) bool {
	return c.WorkingMinutes(d) > 0
}

// BusinessDaysBetween counts the working days in (a, b]. The result is
// negative when b is before a, and zero when both fall on the same date.
func (c *Calendar) BusinessDaysBetween(a, b time.Time) int {
	from, to := c.Date(a), c.Date(b)
	sign := 1
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsWorkingDay(d) {
			n++
		}
	}
	return sign * n
}

// AddBusinessDays walks n working days from d, skipping non-working days.
// Negative n walks backwards and lands on the working day w for which
// BusinessDaysBetween(d, w) == n. From a non-working d that is one step
// further, since (w, d] then excludes d. The clock time of d is preserved.
func (c *Calendar) AddBusinessDays(d time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step, n = -1, -n
		if !c.IsWorkingDay(d) {
			n++
		}
	}
	cur := d
	for n > 0 {
		cur = cur.AddDate(0, 0, step)
		if c.IsWorkingDay(cur) {
			n--
		}
	}
	return cur
}
