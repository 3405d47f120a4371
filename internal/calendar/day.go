// Package calendar assembles day and month pages out of backend schedules,
// slot grids and click dispatch.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dosu/internal/dispatch"
	"dosu/internal/domain"
	"dosu/internal/events"
	"dosu/internal/grid"
	"dosu/internal/logging"
	"dosu/internal/metrics"
	"dosu/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrFetch wraps every failure to obtain a schedule from the backend.
	ErrFetch = errors.New("schedule fetch failed")
	// ErrNoCell is returned for clicks outside the grid.
	ErrNoCell = errors.New("no such cell")
	// ErrPastDate is returned when update mode navigates before today.
	ErrPastDate = errors.New("date is in the past")
)

// Day builds interactive day pages.
type Day struct {
	Source             domain.ScheduleSource
	Selector           domain.SlotSelector
	Events             domain.EventPublisher
	PrivilegeThreshold int
	Now                func() time.Time

	logger *zerolog.Logger
}

func NewDay(source domain.ScheduleSource, selector domain.SlotSelector, bus domain.EventPublisher, threshold int, logger *zerolog.Logger) *Day {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Day{
		Source:             source,
		Selector:           selector,
		Events:             bus,
		PrivilegeThreshold: threshold,
		Now:                time.Now,
		logger:             logger,
	}
}

type DayRequest struct {
	Date      time.Time
	Privilege int
	Filter    models.Status
	Mode      Mode
}

// DayPage is one render of a day.
type DayPage struct {
	Date        time.Time
	Mode        Mode
	Filter      models.Status
	Privilege   int
	Grid        *grid.Grid
	Registry    *dispatch.Registry
	Schedule    []models.Appointment
	Diagnostics []*grid.AppointmentError
	Prev, Next  time.Time
}

// DateString is the wire form of the page date.
func (p *DayPage) DateString() string {
	return p.Date.Format(models.DateLayout)
}

// Strategy returns the click behaviour of mode.
func (d *Day) Strategy(mode Mode) dispatch.Strategy {
	switch mode {
	case ModeUpdate:
		return UpdateStrategy{Events: d.Events}
	case ModeView:
		return ViewStrategy{Logger: d.logger}
	default:
		return CreateStrategy{Selector: d.Selector, Events: d.Events, Logger: d.logger}
	}
}

// Build fetches the day, lays out the grid and only then applies occupancy.
// On fetch failure nothing is built.
func (d *Day) Build(ctx context.Context, req DayRequest) (*DayPage, error) {
	if req.Filter == "" {
		req.Filter = models.StatusActive
	}
	if req.Mode == "" {
		req.Mode = ModeCreate
	}
	if req.Mode == ModeUpdate {
		// the update flow always books into open slots
		req.Filter = models.StatusActive
	}

	sched, err := d.Source.DaySchedule(ctx, req.Date)
	if err != nil {
		d.logger.Error().Err(err).Str("date", req.Date.Format(models.DateLayout)).Msg("fetch day schedule")
		if d.Events != nil {
			_ = d.Events.PublishJSON(events.EventScheduleFetchFailed, map[string]string{
				"date": req.Date.Format(models.DateLayout), "error": err.Error(),
			})
		}
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	schedule := visibleUnder(sched.Schedule, req.Filter)

	rooms, err := roomHours(sched.TimeslotConfig, req.Date)
	if err != nil {
		return nil, err
	}

	registry := dispatch.NewRegistry(d.Strategy(req.Mode))
	builder := grid.NewBuilder(registry, dispatch.NewRegistry(NoticeStrategy{}), d.PrivilegeThreshold)
	builder.Now = d.now

	g, err := builder.Build(grid.BuildRequest{
		Privilege:    req.Privilege,
		Date:         req.Date,
		StatusFilter: req.Filter,
		Rooms:        rooms,
		Layout:       grid.Daily,
	})
	if err != nil {
		return nil, fmt.Errorf("build day grid: %w", err)
	}

	page := &DayPage{
		Date:      req.Date,
		Mode:      req.Mode,
		Filter:    req.Filter,
		Privilege: req.Privilege,
		Grid:      g,
		Registry:  registry,
		Schedule:  schedule,
		Prev:      StepDay(req.Date, -1),
		Next:      StepDay(req.Date, 1),
	}

	applyErr := grid.Applier{Registry: registry}.Apply(g, g.LastSlot, schedule)
	page.Diagnostics = grid.Diagnostics(applyErr)
	d.report(page.DateString(), page.Diagnostics)

	return page, nil
}

// visibleUnder keeps the appointments shown under filter. The active view
// shows the whole day, active entries applied last; the other filters narrow
// to their status. Unknown statuses are kept so they surface as diagnostics.
func visibleUnder(appts []models.Appointment, filter models.Status) []models.Appointment {
	if filter == models.StatusActive {
		return activeLast(appts)
	}
	out := make([]models.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status == filter || !a.Status.Known() {
			out = append(out, a)
		}
	}
	return out
}

// Click rebuilds the page and fires the listeners of (room, slot).
func (d *Day) Click(ctx context.Context, req DayRequest, room, slot int) ([]dispatch.Action, error) {
	page, err := d.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	cell := page.Grid.Cell(room, slot)
	if cell == nil {
		return nil, fmt.Errorf("%w: room %d slot %d", ErrNoCell, room, slot)
	}
	actions, err := cell.Click(ctx, dispatch.Click{Date: page.DateString()})
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		actions = []dispatch.Action{{Kind: dispatch.ActionNone}}
	}
	return actions, nil
}

// Navigate steps from date by one day in direction dir, skipping Sundays.
// Update mode refuses to step backwards from today or earlier.
func (d *Day) Navigate(date time.Time, dir int, mode Mode) (time.Time, error) {
	if mode == ModeUpdate && dir < 0 {
		today := d.now().In(date.Location())
		if !dayOf(date).After(dayOf(today)) {
			return date, ErrPastDate
		}
	}
	return StepDay(date, dir), nil
}

func (d *Day) report(date string, diags []*grid.AppointmentError) {
	for _, diag := range diags {
		kind := "invalid_span"
		switch {
		case errors.Is(diag, grid.ErrUnknownStatus):
			kind = "unknown_status"
		case errors.Is(diag, grid.ErrHandlerMismatch):
			kind = "handler_mismatch"
		}
		metrics.IncOccupancyDiagnostic(kind)
		d.logger.Warn().
			Str("date", date).
			Int64("appointment_id", diag.Appointment.ID).
			Str("kind", kind).
			Err(diag.Err).
			Msg("appointment not rendered cleanly")
		if d.Events != nil {
			_ = d.Events.PublishJSON(events.EventOccupancyDiagnostic, events.DiagnosticPayload{
				Date:          date,
				AppointmentID: diag.Appointment.ID,
				Room:          diag.Appointment.Room,
				Slot:          diag.Appointment.Slot,
				Status:        string(diag.Appointment.Status),
				Reason:        diag.Err.Error(),
			})
		}
	}
}

func (d *Day) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// StepDay moves dir days (sign only) from date, skipping Sundays.
func StepDay(date time.Time, dir int) time.Time {
	step := 1
	if dir < 0 {
		step = -1
	}
	next := date.AddDate(0, 0, step)
	if next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, step)
	}
	return next
}

func roomHours(cfg models.TimeslotConfig, date time.Time) ([]grid.RoomHours, error) {
	rooms := make([]grid.RoomHours, 0, len(models.Rooms))
	for _, room := range models.Rooms {
		h, err := cfg.HoursFor(room, date)
		if err != nil {
			return nil, fmt.Errorf("timeslot config: %w", err)
		}
		rooms = append(rooms, grid.RoomHours{Room: room, Hours: h})
	}
	return rooms, nil
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
