// Package interval holds the time-of-day and calendar-date arithmetic shared by
// schedules, exceptions and slots. Times of day are "HH:MM" strings on the wire
// and minute offsets from midnight internally. Dates are "YYYY-MM-DD".
package interval

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"

	// MinutesPerDay is the exclusive upper bound of a minute offset.
	MinutesPerDay = 24 * 60
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidRange      = errors.New("invalid range")
)

var (
	timePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ParseTime converts an "HH:MM" string into minutes since midnight.
// A single-digit hour ("9:05") is accepted.
func ParseTime(s string) (int, error) {
	if !timePattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidTimeFormat, s)
	}
	sep := len(s) - 3
	hour, _ := strconv.Atoi(s[:sep])
	minute, _ := strconv.Atoi(s[sep+1:])
	return hour*60 + minute, nil
}

// FormatTime is the inverse of ParseTime and always zero-pads.
func FormatTime(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeTime returns the canonical zero-padded form of s.
func NormalizeTime(s string) (string, error) {
	m, err := ParseTime(s)
	if err != nil {
		return "", err
	}
	return FormatTime(m), nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// ValidateRange fails when start is not strictly before end.
func ValidateRange(start, end int) error {
	if start >= end {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRange, FormatTime(start), FormatTime(end))
	}
	return nil
}

// ParseTimeRange parses and validates a start/end pair in one step.
func ParseTimeRange(start, end string) (int, int, error) {
	s, err := ParseTime(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseTime(end)
	if err != nil {
		return 0, 0, err
	}
	if err := ValidateRange(s, e); err != nil {
		return 0, 0, err
	}
	return s, e, nil
}

// ParseDate parses a strict "YYYY-MM-DD" string. Dates that do not exist on
// the calendar (2023-02-30) are rejected. The result is midnight UTC.
func ParseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q, expected YYYY-MM-DD", ErrInvalidDateFormat, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDateFormat, s)
	}
	return t, nil
}

// FormatDate renders t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidateDateRange fails when from is after to. Equal dates form a one-day range.
func ValidateDateRange(from, to time.Time) error {
	if from.After(to) {
		return fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidRange, FormatDate(from), FormatDate(to))
	}
	return nil
}

// Dates returns every calendar day in [from, to], inclusive.
func Dates(from, to time.Time) []time.Time {
	if from.After(to) {
		return nil
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DaysBetween counts the calendar days in [from, to], inclusive.
func DaysBetween(from, to time.Time) int {
	if from.After(to) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

// Window is a [Start, End) pair of minute offsets.
type Window struct {
	Start int
	End   int
}

// Windows slides a window of length minutes across [start, end), advancing by
// step minutes. Only windows that fit entirely are returned.
func Windows(start, end, length, step int) []Window {
	if length <= 0 || step <= 0 {
		return nil
	}
	var out []Window
	for cur := start; cur+length <= end; cur += step {
		out = append(out, Window{Start: cur, End: cur + length})
	}
	return out
}
