// Package temporal converts wall-clock offsets into business time using a
// calendar.Calendar, and owns the step-function decay policy applied to
// signal magnitudes during issue balance recalculation.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/matthewbaird/signalintel/internal/calendar"
)

// maxResponseSearchDays bounds the business-deadline walk.
const maxResponseSearchDays = 3660

// Aging describes the span between two instants in calendar and business terms.
type Aging struct {
	CalendarDays       int      `json:"calendar_days"`
	BusinessDays       int      `json:"business_days"`
	BusinessWeeks      float64  `json:"business_weeks"`
	HolidaysCrossed    []string `json:"holidays_crossed"`
	EidDaysCrossed     int      `json:"eid_days_crossed"`
	RamadanDaysCrossed int      `json:"ramadan_days_crossed"`
}

// ResponseExpectation is when a reply to something sent at SentAt is due.
type ResponseExpectation struct {
	SentAt           time.Time `json:"sent_at"`
	ResponseHours    float64   `json:"response_hours"`
	CalendarDeadline time.Time `json:"calendar_deadline"`
	BusinessDeadline time.Time `json:"business_deadline"`
	Note             string    `json:"note,omitempty"`
}

// Normalizer performs business-time arithmetic for one calendar.
type Normalizer struct {
	cal *calendar.Calendar
}

// New returns a Normalizer over cal.
func New(cal *calendar.Calendar) *Normalizer {
	return &Normalizer{cal: cal}
}

// Calendar returns the underlying calendar.
func (n *Normalizer) Calendar() *calendar.Calendar { return n.cal }

// BusinessDaysLate returns how many business days current is past due.
// A negative result means the item is not yet due.
func (n *Normalizer) BusinessDaysLate(due, current time.Time) int {
	return n.cal.BusinessDaysBetween(due, current)
}

// window returns the working window of the civil date containing d.
func (n *Normalizer) window(d time.Time) (open, shut time.Time, ok bool) {
	ctx := n.cal.DayContext(d)
	if !ctx.IsWorkingDay() {
		return time.Time{}, time.Time{}, false
	}
	day := ctx.Date
	return day.Add(time.Duration(ctx.WorkStart) * time.Hour), day.Add(time.Duration(ctx.WorkEnd) * time.Hour), true
}

// BusinessHoursElapsed sums, for every calendar day touched by [start, end],
// the overlap of that day's working window with the interval.
func (n *Normalizer) BusinessHoursElapsed(start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}
	var total time.Duration
	last := n.cal.Date(end)
	for d := n.cal.Date(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		open, shut, ok := n.window(d)
		if !ok {
			continue
		}
		if start.After(open) {
			open = start
		}
		if end.Before(shut) {
			shut = end
		}
		if shut.After(open) {
			total += shut.Sub(open)
		}
	}
	return total.Hours()
}

// NormalizeAging describes the span from start to end. Days are counted in
// (start, end]; an end before start yields a zero Aging.
func (n *Normalizer) NormalizeAging(start, end time.Time) Aging {
	aging := Aging{HolidaysCrossed: []string{}}
	from, to := n.cal.Date(start), n.cal.Date(end)
	if to.Before(from) {
		return aging
	}
	seen := make(map[string]bool)
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		aging.CalendarDays++
		ctx := n.cal.DayContext(d)
		if ctx.IsWorkingDay() {
			aging.BusinessDays++
		}
		if ctx.IsPublicHoliday && !seen[ctx.HolidayName] {
			seen[ctx.HolidayName] = true
			aging.HolidaysCrossed = append(aging.HolidaysCrossed, ctx.HolidayName)
		}
		if ctx.IsEid {
			aging.EidDaysCrossed++
		}
		if ctx.IsRamadan {
			aging.RamadanDaysCrossed++
		}
	}
	aging.BusinessWeeks = float64(aging.BusinessDays) / 5
	return aging
}

// ExpectedResponseTime computes when a reply to something sent at sentAt is
// due, both in calendar time and counting only working hours.
func (n *Normalizer) ExpectedResponseTime(sentAt time.Time, responseHours float64) ResponseExpectation {
	want := time.Duration(responseHours * float64(time.Hour))
	exp := ResponseExpectation{
		SentAt:           sentAt,
		ResponseHours:    responseHours,
		CalendarDeadline: sentAt.Add(want),
		BusinessDeadline: sentAt,
		Note:             n.responseNote(sentAt),
	}
	if want <= 0 {
		return exp
	}

	remaining := want
	cursor := sentAt
	for i := 0; i < maxResponseSearchDays; i++ {
		open, shut, ok := n.window(cursor)
		if ok {
			if cursor.Before(open) {
				cursor = open
			}
			if cursor.Before(shut) {
				avail := shut.Sub(cursor)
				if remaining <= avail {
					exp.BusinessDeadline = cursor.Add(remaining)
					return exp
				}
				remaining -= avail
			}
		}
		cursor = n.cal.Date(cursor).AddDate(0, 0, 1)
	}
	exp.BusinessDeadline = cursor
	return exp
}

func (n *Normalizer) responseNote(sentAt time.Time) string {
	ctx := n.cal.DayContext(sentAt)
	var notes []string
	switch ctx.DayType {
	case calendar.DayEid:
		notes = append(notes, "sent during Eid; clock starts on the next working day")
	case calendar.DayPublicHoliday:
		notes = append(notes, fmt.Sprintf("sent on %s; clock starts on the next working day", ctx.HolidayName))
	case calendar.DayWeekend:
		notes = append(notes, "sent on the weekend; clock starts on the next working day")
	case calendar.DayRamadanWorking:
		notes = append(notes, fmt.Sprintf("sent during Ramadan; working hours are %02d:00-%02d:00", ctx.WorkStart, ctx.WorkEnd))
	}
	if !ctx.LunarDataAvailable {
		notes = append(notes, "no lunar calendar data for this year; Ramadan hours not applied")
	}
	return strings.Join(notes, "; ")
}

// TaskAgeWeighted weights an overdue task by how late it is: 1.0 when the
// task is completed or not yet due, otherwise 1.0 + late/20 capped at 2.0.
func (n *Normalizer) TaskAgeWeighted(due time.Time, status string, current time.Time) float64 {
	if isCompleted(status) {
		return 1.0
	}
	late := n.BusinessDaysLate(due, current)
	if late <= 0 {
		return 1.0
	}
	w := 1.0 + float64(late)/20
	if w > 2.0 {
		return 2.0
	}
	return w
}

func isCompleted(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "complete", "done", "closed":
		return true
	}
	return false
}
