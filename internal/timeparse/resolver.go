package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultWindowDays is the forward search window when the caller gives no date.
const defaultWindowDays = 14

// Range is a concrete local-time window resolved from a spoken date expression.
type Range struct {
	From  time.Time
	To    time.Time
	Label string
	// Parsed is false when the expression could not be understood and the
	// range fell back to the default forward window.
	Parsed bool
}

// Resolver turns caller-spoken date expressions ("tomorrow", "next saturday",
// "the 23rd") into clinic-local time ranges.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver anchors all resolution to the clinic's timezone.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		loc: loc,
		now: time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "thur": time.Thursday,
	"thurs": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var (
	monthPattern = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t|tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

	weekdayRE  = regexp.MustCompile(`\b(this|next)?\s*(sunday|monday|tuesday|wednesday|thursday|friday|saturday|sun|mon|tues?|wed|thur?s?|fri|sat)\b`)
	monthDayRE = regexp.MustCompile(`\b(` + monthPattern + `)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonthRE = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthPattern + `)\b`)
	// Slash dates are read day/month per regional convention, never month/day.
	slashDateRE = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	bareDayRE   = regexp.MustCompile(`\b(?:on\s+)?(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)\b`)
)

// Resolve parses a spoken date expression into a concrete local range.
// An empty expression yields the default forward window. Unparseable
// input never errors; it falls back to the default window with a
// human-readable label saying so.
func (r *Resolver) Resolve(expr string) Range {
	now := r.now().In(r.loc)
	expr = strings.ToLower(strings.TrimSpace(expr))

	if expr == "" {
		return r.defaultWindow(now, fmt.Sprintf("the next %d days", defaultWindowDays))
	}

	part := extractPartOfDay(expr)

	if rng, ok := r.resolveRelative(expr, now, part); ok {
		return rng
	}
	if rng, ok := r.resolveWeekday(expr, now, part); ok {
		return rng
	}
	if rng, ok := r.resolveMonthDay(expr, now, part); ok {
		return rng
	}
	if rng, ok := r.resolveSlashDate(expr, now, part); ok {
		return rng
	}
	if rng, ok := r.resolveBareDay(expr, now, part); ok {
		return rng
	}

	fallback := r.defaultWindow(now, fmt.Sprintf("couldn't parse %q, searching the next %d days", expr, defaultWindowDays))
	fallback.Parsed = false
	return fallback
}

func (r *Resolver) defaultWindow(now time.Time, label string) Range {
	return Range{
		From:   now,
		To:     now.AddDate(0, 0, defaultWindowDays),
		Label:  label,
		Parsed: true,
	}
}

func (r *Resolver) resolveRelative(expr string, now time.Time, part partOfDay) (Range, bool) {
	switch {
	case strings.Contains(expr, "today"):
		// Today begins at the current instant, not midnight.
		from, to := now, endOfDay(now)
		from, to = part.narrow(from, to, now)
		return Range{From: from, To: to, Label: "today", Parsed: true}, true

	case strings.Contains(expr, "tomorrow"):
		start := startOfDay(now).AddDate(0, 0, 1)
		from, to := start, endOfDay(start)
		from, to = part.narrow(from, to, now)
		return Range{From: from, To: to, Label: "tomorrow", Parsed: true}, true

	case strings.Contains(expr, "next week"):
		// The following Monday through Friday.
		daysUntilMonday := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		monday := startOfDay(now).AddDate(0, 0, daysUntilMonday)
		friday := monday.AddDate(0, 0, 4)
		return Range{From: monday, To: endOfDay(friday), Label: "next week", Parsed: true}, true

	case strings.Contains(expr, "this week"):
		return Range{From: now, To: endOfDay(startOfDay(now).AddDate(0, 0, daysUntilSunday(now))), Label: "this week", Parsed: true}, true
	}
	return Range{}, false
}

func (r *Resolver) resolveWeekday(expr string, now time.Time, part partOfDay) (Range, bool) {
	m := weekdayRE.FindStringSubmatch(expr)
	if m == nil {
		return Range{}, false
	}
	target, ok := weekdayNames[m[2]]
	if !ok {
		return Range{}, false
	}

	// Bare or "this <weekday>": the next occurrence, today included when
	// today matches and the day is still actionable.
	days := (int(target) - int(now.Weekday()) + 7) % 7
	day := startOfDay(now).AddDate(0, 0, days)

	label := strings.ToLower(day.Weekday().String())
	if m[1] == "next" {
		// "next saturday" is exactly a week after "this saturday".
		day = day.AddDate(0, 0, 7)
		label = "next " + label
	}

	from, to := day, endOfDay(day)
	if sameDay(day, now) {
		from = now
	}
	from, to = part.narrow(from, to, now)
	return Range{From: from, To: to, Label: label, Parsed: true}, true
}

func (r *Resolver) resolveMonthDay(expr string, now time.Time, part partOfDay) (Range, bool) {
	var monthStr, dayStr string
	if m := monthDayRE.FindStringSubmatch(expr); m != nil {
		monthStr, dayStr = m[1], m[2]
	} else if m := dayMonthRE.FindStringSubmatch(expr); m != nil {
		dayStr, monthStr = m[1], m[2]
	} else {
		return Range{}, false
	}

	month, ok := monthNames[monthStr]
	if !ok {
		return Range{}, false
	}
	dayNum, err := strconv.Atoi(dayStr)
	if err != nil || dayNum < 1 || dayNum > 31 {
		return Range{}, false
	}

	day := time.Date(now.Year(), month, dayNum, 0, 0, 0, 0, r.loc)
	if endOfDay(day).Before(now) {
		day = day.AddDate(1, 0, 0)
	}
	from, to := dayRange(day, now)
	from, to = part.narrow(from, to, now)
	return Range{From: from, To: to, Label: day.Format("January 2"), Parsed: true}, true
}

func (r *Resolver) resolveSlashDate(expr string, now time.Time, part partOfDay) (Range, bool) {
	m := slashDateRE.FindStringSubmatch(expr)
	if m == nil {
		return Range{}, false
	}
	dayNum, _ := strconv.Atoi(m[1])
	monthNum, _ := strconv.Atoi(m[2])
	if dayNum < 1 || dayNum > 31 || monthNum < 1 || monthNum > 12 {
		return Range{}, false
	}

	year := now.Year()
	if m[3] != "" {
		if y, err := strconv.Atoi(m[3]); err == nil {
			if y < 100 {
				y += 2000
			}
			year = y
		}
	}

	day := time.Date(year, time.Month(monthNum), dayNum, 0, 0, 0, 0, r.loc)
	if m[3] == "" && endOfDay(day).Before(now) {
		day = day.AddDate(1, 0, 0)
	}
	from, to := dayRange(day, now)
	from, to = part.narrow(from, to, now)
	return Range{From: from, To: to, Label: day.Format("January 2"), Parsed: true}, true
}

func (r *Resolver) resolveBareDay(expr string, now time.Time, part partOfDay) (Range, bool) {
	m := bareDayRE.FindStringSubmatch(expr)
	if m == nil {
		return Range{}, false
	}
	dayNum, err := strconv.Atoi(m[1])
	if err != nil || dayNum < 1 || dayNum > 31 {
		return Range{}, false
	}

	// Within the current month when still upcoming, else roll to next month.
	day := time.Date(now.Year(), now.Month(), dayNum, 0, 0, 0, 0, r.loc)
	if endOfDay(day).Before(now) {
		day = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.loc).AddDate(0, 1, dayNum-1)
	}
	from, to := dayRange(day, now)
	from, to = part.narrow(from, to, now)
	return Range{From: from, To: to, Label: day.Format("January 2"), Parsed: true}, true
}

type partOfDay int

const (
	partNone partOfDay = iota
	partMorning
	partAfternoon
	partEvening
)

func extractPartOfDay(expr string) partOfDay {
	switch {
	case strings.Contains(expr, "morning"):
		return partMorning
	case strings.Contains(expr, "afternoon"):
		return partAfternoon
	case strings.Contains(expr, "evening"), strings.Contains(expr, "tonight"), strings.Contains(expr, "night"):
		return partEvening
	}
	return partNone
}

// narrow clamps a day window to the requested part of day. The lower
// bound never moves before now for same-day requests.
func (p partOfDay) narrow(from, to, now time.Time) (time.Time, time.Time) {
	if p == partNone {
		return from, to
	}
	day := startOfDay(from)
	var lo, hi int
	switch p {
	case partMorning:
		lo, hi = 8, 12
	case partAfternoon:
		lo, hi = 12, 17
	case partEvening:
		lo, hi = 17, 21
	}
	nf := day.Add(time.Duration(lo) * time.Hour)
	nt := day.Add(time.Duration(hi) * time.Hour)
	if nf.Before(from) {
		nf = from
	}
	if nt.After(to) {
		nt = to
	}
	if !nt.After(nf) {
		return from, to
	}
	return nf, nt
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

func dayRange(day, now time.Time) (time.Time, time.Time) {
	from, to := day, endOfDay(day)
	if sameDay(day, now) && now.After(from) {
		from = now
	}
	return from, to
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func daysUntilSunday(now time.Time) int {
	return (int(time.Sunday) - int(now.Weekday()) + 7) % 7
}
