package models

import (
	"errors"
	"fmt"
	"time"

	"dosu/internal/clock"
)

// ErrInvalidHours marks a business-hour configuration that breaks ordering rules.
var ErrInvalidHours = errors.New("invalid business hours")

// BusinessHours is the resolved schedule of one room for one day type.
// All times are anchored on clock.Epoch.
type BusinessHours struct {
	Start      time.Time
	End        time.Time
	Overtime   time.Time
	LunchStart time.Time
	LunchEnd   time.Time
	Duration   time.Duration
}

// HasLunch reports whether a lunch break is configured.
func (h BusinessHours) HasLunch() bool {
	return !h.LunchStart.IsZero() && !h.LunchEnd.IsZero()
}

// InLunch reports whether t falls inside [LunchStart, LunchEnd).
func (h BusinessHours) InLunch(t time.Time) bool {
	return h.HasLunch() && !t.Before(h.LunchStart) && t.Before(h.LunchEnd)
}

func (h BusinessHours) Validate() error {
	if h.Duration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive, got %s", ErrInvalidHours, h.Duration)
	}
	if !h.Start.Before(h.Overtime) {
		return fmt.Errorf("%w: start %s must be before overtime %s", ErrInvalidHours, clock.Format(h.Start), clock.Format(h.Overtime))
	}
	if h.Overtime.After(h.End) {
		return fmt.Errorf("%w: overtime %s must not be after end %s", ErrInvalidHours, clock.Format(h.Overtime), clock.Format(h.End))
	}
	if h.LunchStart.IsZero() != h.LunchEnd.IsZero() {
		return fmt.Errorf("%w: lunch needs both start and end", ErrInvalidHours)
	}
	if h.HasLunch() {
		if !h.LunchStart.Before(h.LunchEnd) {
			return fmt.Errorf("%w: lunch start %s must be before lunch end %s", ErrInvalidHours, clock.Format(h.LunchStart), clock.Format(h.LunchEnd))
		}
		if h.LunchStart.Before(h.Start) || h.LunchEnd.After(h.Overtime) {
			return fmt.Errorf("%w: lunch %s-%s must lie within %s-%s", ErrInvalidHours,
				clock.Format(h.LunchStart), clock.Format(h.LunchEnd), clock.Format(h.Start), clock.Format(h.Overtime))
		}
	}
	return nil
}

// TimeslotConfig is the wire form of the clinic hours served by the backend.
type TimeslotConfig struct {
	WeekdayStart      string `json:"wd_start_hour" yaml:"wd_start_hour"`
	WeekdayEnd        string `json:"wd_end_hour" yaml:"wd_end_hour"`
	WeekdayLunchStart string `json:"wd_lunch_start_hour" yaml:"wd_lunch_start_hour"`
	WeekdayLunchEnd   string `json:"wd_lunch_end_hour" yaml:"wd_lunch_end_hour"`
	WeekdayOvertime   string `json:"wd_overtime_hour" yaml:"wd_overtime_hour"`
	SaturdayStart     string `json:"sd_start_hour" yaml:"sd_start_hour"`
	SaturdayEnd       string `json:"sd_end_hour" yaml:"sd_end_hour"`
	SaturdayOvertime  string `json:"sd_overtime_hour" yaml:"sd_overtime_hour"`
	// Duration is the slot length in minutes.
	Duration int `json:"duration" yaml:"duration"`
	// Rooms optionally overrides the hours of a single room.
	Rooms map[int]TimeslotConfig `json:"rooms,omitempty" yaml:"rooms,omitempty"`
}

// DefaultTimeslotConfig mirrors the values a fresh clinic starts with.
func DefaultTimeslotConfig() TimeslotConfig {
	return TimeslotConfig{
		WeekdayStart:      "09:00",
		WeekdayEnd:        "21:00",
		WeekdayLunchStart: "13:00",
		WeekdayLunchEnd:   "14:00",
		WeekdayOvertime:   "18:00",
		SaturdayStart:     "09:00",
		SaturdayEnd:       "15:00",
		SaturdayOvertime:  "13:00",
		Duration:          30,
	}
}

// HoursFor resolves the business hours of room on date. Saturdays use the
// sd_* fields and never have a lunch break.
func (c TimeslotConfig) HoursFor(room int, date time.Time) (BusinessHours, error) {
	src := c
	if override, ok := c.Rooms[room]; ok {
		src = override
	}

	var (
		h   BusinessHours
		err error
	)
	parse := func(field, value string) time.Time {
		if err != nil {
			return time.Time{}
		}
		t, perr := clock.Parse(value)
		if perr != nil {
			err = fmt.Errorf("room %d %s: %w", room, field, perr)
		}
		return t
	}

	if date.Weekday() == time.Saturday {
		h.Start = parse("sd_start_hour", src.SaturdayStart)
		h.End = parse("sd_end_hour", src.SaturdayEnd)
		h.Overtime = parse("sd_overtime_hour", src.SaturdayOvertime)
	} else {
		h.Start = parse("wd_start_hour", src.WeekdayStart)
		h.End = parse("wd_end_hour", src.WeekdayEnd)
		h.Overtime = parse("wd_overtime_hour", src.WeekdayOvertime)
		if src.WeekdayLunchStart != "" || src.WeekdayLunchEnd != "" {
			h.LunchStart = parse("wd_lunch_start_hour", src.WeekdayLunchStart)
			h.LunchEnd = parse("wd_lunch_end_hour", src.WeekdayLunchEnd)
		}
	}
	if err != nil {
		return BusinessHours{}, err
	}
	h.Duration = time.Duration(src.Duration) * time.Minute

	if err := h.Validate(); err != nil {
		return BusinessHours{}, fmt.Errorf("room %d: %w", room, err)
	}
	return h, nil
}

// Validate checks both day types of every room.
func (c TimeslotConfig) Validate() error {
	weekday := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) // Monday
	saturday := weekday.AddDate(0, 0, 5)
	for _, room := range Rooms {
		for _, d := range []time.Time{weekday, saturday} {
			if _, err := c.HoursFor(room, d); err != nil {
				return err
			}
		}
	}
	return nil
}
