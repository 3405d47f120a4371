// Package clock converts "HH:MM" strings to comparable times of day.
//
// Every parsed value is anchored on the same fixed date (1970-01-01 UTC) so
// that only the time-of-day portion takes part in comparisons and arithmetic.
package clock

import (
	"errors"
	"fmt"
	"time"
)

const layout = "15:04"

// ErrInvalidFormat is returned for anything other than a strict "HH:MM" value.
var ErrInvalidFormat = errors.New("invalid time of day")

// Epoch is the anchor date of every parsed time.
var Epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Parse converts "HH:MM" into a time on the epoch date.
func Parse(hhmm string) (time.Time, error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, hhmm)
	}
	t, err := time.ParseInLocation(layout, hhmm, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, hhmm)
	}
	return Epoch.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// MustParse is Parse for fixtures. It panics on malformed input.
func MustParse(hhmm string) time.Time {
	t, err := Parse(hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

// Add returns t advanced by d; t itself is never modified.
func Add(t time.Time, d time.Duration) time.Time {
	return t.Add(d)
}

// Format renders the time-of-day portion as "HH:MM".
func Format(t time.Time) string {
	return t.Format(layout)
}

// Of projects the wall-clock time of day of t onto the epoch date.
func Of(t time.Time) time.Time {
	return Epoch.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

// Hour returns the hour of the time of day.
func Hour(t time.Time) int {
	return t.Hour()
}
