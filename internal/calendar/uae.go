package calendar

import "time"

// LocaleUAE is the United Arab Emirates locale: Friday/Saturday weekend,
// Gulf Standard Time (UTC+4, no daylight saving).
const LocaleUAE = "ae"

var gulfStandardTime = time.FixedZone("GST", 4*60*60)

// uaeHolidays is the fixed public holiday table. Eid periods are not listed
// here; they come from uaeLunar so they classify as Eid, not as holidays.
var uaeHolidays = map[int][]holidaySpan{
	2024: {
		{"New Year's Day", day(2024, time.January, 1), day(2024, time.January, 1)},
		{"Arafat Day", day(2024, time.June, 15), day(2024, time.June, 15)},
		{"Hijri New Year", day(2024, time.July, 7), day(2024, time.July, 7)},
		{"Prophet's Birthday", day(2024, time.September, 15), day(2024, time.September, 15)},
		{"Commemoration Day", day(2024, time.December, 1), day(2024, time.December, 1)},
		{"National Day", day(2024, time.December, 2), day(2024, time.December, 3)},
	},
	2025: {
		{"New Year's Day", day(2025, time.January, 1), day(2025, time.January, 1)},
		{"Arafat Day", day(2025, time.June, 5), day(2025, time.June, 5)},
		{"Hijri New Year", day(2025, time.June, 26), day(2025, time.June, 26)},
		{"Prophet's Birthday", day(2025, time.September, 4), day(2025, time.September, 4)},
		{"Commemoration Day", day(2025, time.December, 1), day(2025, time.December, 1)},
		{"National Day", day(2025, time.December, 2), day(2025, time.December, 3)},
	},
	2026: {
		{"New Year's Day", day(2026, time.January, 1), day(2026, time.January, 1)},
		{"Arafat Day", day(2026, time.May, 26), day(2026, time.May, 26)},
		{"Hijri New Year", day(2026, time.June, 16), day(2026, time.June, 16)},
		{"Prophet's Birthday", day(2026, time.August, 25), day(2026, time.August, 25)},
		{"Commemoration Day", day(2026, time.December, 1), day(2026, time.December, 1)},
		{"National Day", day(2026, time.December, 2), day(2026, time.December, 3)},
	},
	2027: {
		{"New Year's Day", day(2027, time.January, 1), day(2027, time.January, 1)},
		{"Arafat Day", day(2027, time.May, 15), day(2027, time.May, 15)},
		{"Hijri New Year", day(2027, time.June, 6), day(2027, time.June, 6)},
		{"Prophet's Birthday", day(2027, time.August, 14), day(2027, time.August, 14)},
		{"Commemoration Day", day(2027, time.December, 1), day(2027, time.December, 1)},
		{"National Day", day(2027, time.December, 2), day(2027, time.December, 3)},
	},
}

// uaeLunar holds the observed Ramadan and Eid periods. Years missing from
// this table have no lunar data; lookups for them return ErrNoLunarData.
var uaeLunar = map[int]lunarYear{
	2024: {
		Ramadan: span(day(2024, time.March, 11), day(2024, time.April, 9)),
		EidFitr: span(day(2024, time.April, 10), day(2024, time.April, 12)),
		EidAdha: span(day(2024, time.June, 16), day(2024, time.June, 18)),
	},
	2025: {
		Ramadan: span(day(2025, time.March, 1), day(2025, time.March, 29)),
		EidFitr: span(day(2025, time.March, 30), day(2025, time.April, 1)),
		EidAdha: span(day(2025, time.June, 6), day(2025, time.June, 8)),
	},
	2026: {
		Ramadan: span(day(2026, time.February, 18), day(2026, time.March, 19)),
		EidFitr: span(day(2026, time.March, 20), day(2026, time.March, 22)),
		EidAdha: span(day(2026, time.May, 27), day(2026, time.May, 29)),
	},
	2027: {
		Ramadan: span(day(2027, time.February, 8), day(2027, time.March, 9)),
		EidFitr: span(day(2027, time.March, 10), day(2027, time.March, 12)),
		EidAdha: span(day(2027, time.May, 16), day(2027, time.May, 18)),
	},
}

func newUAE() *Calendar {
	return &Calendar{
		locale:   LocaleUAE,
		loc:      gulfStandardTime,
		weekend:  map[time.Weekday]bool{time.Friday: true, time.Saturday: true},
		holidays: uaeHolidays,
		lunar:    uaeLunar,
		hours: workingHours{
			Normal:  [2]int{10, 20},
			Ramadan: [2]int{9, 14},
		},
	}
}
