// Package schedtime turns free-form schedule expressions into absolute
// instants.
//
// Accepted shapes, checked in order against the trimmed, lowercased input:
//
//	tomorrow 8:15 pm
//	2024-1-20 10:00 am
//	8:15 pm
//	20:15
//
// Times without an explicit date that already passed today roll forward
// one day. The result is always strictly in the future.
package schedtime

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrBadFormat rejects input no grammar matched.
	ErrBadFormat = errors.New("could not parse time format")
	// ErrNotFuture rejects schedules that are not strictly after now.
	ErrNotFuture = errors.New("scheduled time must be in the future")
)

var (
	dateRe   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})\s+(.+)$`)
	hour12Re = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)`)
	hour24Re = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)
)

// Parse resolves raw against now. The returned instant is in now's
// location; callers pass now already shifted into the schedule zone.
func Parse(raw string, now time.Time) (time.Time, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	loc := now.Location()

	year, month, day := now.Date()
	hadTomorrow := false
	if strings.HasPrefix(text, "tomorrow") {
		hadTomorrow = true
		year, month, day = now.AddDate(0, 0, 1).Date()
		text = strings.TrimSpace(strings.TrimPrefix(text, "tomorrow"))
	}

	// An explicit date wins over the tomorrow prefix.
	hadDate := false
	if m := dateRe.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if !validDate(y, mo, d) {
			return time.Time{}, ErrBadFormat
		}
		hadDate = true
		year, month, day = y, time.Month(mo), d
		text = m[4]
	}

	hour, minute, err := parseClock(text)
	if err != nil {
		return time.Time{}, err
	}

	at := time.Date(year, month, day, hour, minute, 0, 0, loc)

	// No date given in any form and the time already passed today:
	// the user means tomorrow.
	if !at.After(now) && !hadDate && !hadTomorrow {
		at = at.AddDate(0, 0, 1)
	}
	if !at.After(now) {
		return time.Time{}, ErrNotFuture
	}
	return at, nil
}

// parseClock reads the leading time token, 12-hour first.
func parseClock(text string) (hour, minute int, err error) {
	if m := hour12Re.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		switch {
		case m[3] == "pm" && hour != 12:
			hour += 12
		case m[3] == "am" && hour == 12:
			hour = 0
		}
	} else if m := hour24Re.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
	} else {
		return 0, 0, ErrBadFormat
	}

	if hour > 23 || minute > 59 {
		return 0, 0, ErrBadFormat
	}
	return hour, minute, nil
}

func validDate(y, mo, d int) bool {
	if mo < 1 || mo > 12 || d < 1 {
		return false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	yy, mm, dd := t.Date()
	return yy == y && int(mm) == mo && dd == d
}
