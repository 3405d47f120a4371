package calendar

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"dosu/internal/domain"
	"dosu/internal/events"
	"dosu/internal/grid"
	"dosu/internal/logging"
	"dosu/internal/models"

	"github.com/rs/zerolog"
)

// Month builds month overviews: one inert, aligned grid per working day.
type Month struct {
	Source   domain.ScheduleSource
	Events   domain.EventPublisher
	Location *time.Location

	logger *zerolog.Logger
	day    *Day
}

func NewMonth(source domain.ScheduleSource, bus domain.EventPublisher, loc *time.Location, logger *zerolog.Logger) *Month {
	if logger == nil {
		logger = logging.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Month{
		Source:   source,
		Events:   bus,
		Location: loc,
		logger:   logger,
		day:      &Day{Events: bus, logger: logger},
	}
}

// MonthDay is one calendar cell. Sundays carry no grid.
type MonthDay struct {
	Date         time.Time
	Day          int
	Sunday       bool
	Grid         *grid.Grid
	Appointments int
	Diagnostics  []*grid.AppointmentError
}

// WorkerTally is the new-patient summary of one worker.
type WorkerTally struct {
	Worker       string
	Count        int
	PatientNames []string
}

type MonthPage struct {
	Year  int
	Month time.Month
	// Leading is the number of blank cells before day 1 in a Sunday-first week.
	Leading          int
	Days             []*MonthDay
	Tally            []WorkerTally
	TotalNewPatients int
	Prev, Next       time.Time
}

// Weeks lays the days out in Sunday-first rows; blanks are nil.
func (p *MonthPage) Weeks() [][]*MonthDay {
	cells := make([]*MonthDay, p.Leading, p.Leading+len(p.Days)+6)
	cells = append(cells, p.Days...)
	for len(cells)%7 != 0 {
		cells = append(cells, nil)
	}
	weeks := make([][]*MonthDay, 0, len(cells)/7)
	for i := 0; i < len(cells); i += 7 {
		weeks = append(weeks, cells[i:i+7])
	}
	return weeks
}

// Build fetches the month and renders every day except Sundays.
func (m *Month) Build(ctx context.Context, year int, month time.Month) (*MonthPage, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}

	sched, err := m.Source.MonthSchedule(ctx, year, month)
	if err != nil {
		m.logger.Error().Err(err).Int("year", year).Int("month", int(month)).Msg("fetch month schedule")
		if m.Events != nil {
			_ = m.Events.PublishJSON(events.EventScheduleFetchFailed, map[string]string{
				"month": fmt.Sprintf("%04d-%02d", year, month), "error": err.Error(),
			})
		}
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, m.Location)
	daysIn := first.AddDate(0, 1, -1).Day()

	page := &MonthPage{
		Year:    year,
		Month:   month,
		Leading: int(first.Weekday()),
		Days:    make([]*MonthDay, 0, daysIn),
		Prev:    first.AddDate(0, -1, 0),
		Next:    first.AddDate(0, 1, 0),
	}

	builder := grid.NewBuilder(nil, nil, 0)
	for day := 1; day <= daysIn; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, m.Location)
		md := &MonthDay{Date: date, Day: day}
		page.Days = append(page.Days, md)
		if date.Weekday() == time.Sunday {
			md.Sunday = true
			continue
		}

		rooms, err := roomHours(sched.TimeslotConfig, date)
		if err != nil {
			return nil, err
		}
		g, err := builder.Build(grid.BuildRequest{
			Date:         date,
			StatusFilter: models.StatusActive,
			Rooms:        rooms,
			Layout:       grid.Monthly,
		})
		if err != nil {
			return nil, fmt.Errorf("build grid for day %d: %w", day, err)
		}
		md.Grid = g

		appts := activeLast(sched.ForDay(day))
		md.Appointments = len(appts)
		md.Diagnostics = grid.Diagnostics(grid.Applier{}.Apply(g, g.LastSlot, appts))
		m.day.report(date.Format(models.DateLayout), md.Diagnostics)
	}

	page.Tally, page.TotalNewPatients = FoldNewPatients(sched.NewPatientCount)
	return page, nil
}

// activeLast orders appointments so active ones are applied after canceled
// or no-show entries on the same slots.
func activeLast(appts []models.Appointment) []models.Appointment {
	out := slices.Clone(appts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status != models.StatusActive && out[j].Status == models.StatusActive
	})
	return out
}

// FoldNewPatients merges the per-worker counts, most new patients first.
func FoldNewPatients(counts []models.NewPatientCount) ([]WorkerTally, int) {
	byWorker := make(map[string]*WorkerTally)
	var order []string
	total := 0
	for _, c := range counts {
		t, ok := byWorker[c.WorkerName]
		if !ok {
			t = &WorkerTally{Worker: c.WorkerName}
			byWorker[c.WorkerName] = t
			order = append(order, c.WorkerName)
		}
		t.Count += c.Count
		t.PatientNames = append(t.PatientNames, c.PatientNames...)
		total += c.Count
	}

	tallies := make([]WorkerTally, 0, len(order))
	for _, name := range order {
		tallies = append(tallies, *byWorker[name])
	}
	sort.SliceStable(tallies, func(i, j int) bool {
		if tallies[i].Count != tallies[j].Count {
			return tallies[i].Count > tallies[j].Count
		}
		return tallies[i].Worker < tallies[j].Worker
	})
	return tallies, total
}
