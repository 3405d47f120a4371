package grid

import (
	"errors"
	"fmt"
	"time"

	"dosu/internal/dispatch"
	"dosu/internal/metrics"
	"dosu/internal/models"
	"dosu/internal/slots"
)

var (
	ErrNoRooms       = errors.New("grid needs at least one room")
	ErrDuplicateRoom = errors.New("room laid out twice")
)

// RoomHours pairs a room with its resolved hours for the day.
type RoomHours struct {
	Room  int
	Hours models.BusinessHours
}

type BuildRequest struct {
	Privilege    int
	Date         time.Time
	StatusFilter models.Status
	Rooms        []RoomHours
	Layout       Layout
}

// Builder lays out empty grids and wires open cells to click handlers.
type Builder struct {
	// Registry supplies the booking handler of every available cell.
	Registry *dispatch.Registry
	// Notices supplies the handler of cells shown outside the active filter.
	Notices *dispatch.Registry
	// PrivilegeThreshold: privileges strictly above it may book past dates.
	PrivilegeThreshold int
	Now                func() time.Time
}

func NewBuilder(registry, notices *dispatch.Registry, threshold int) *Builder {
	return &Builder{
		Registry:           registry,
		Notices:            notices,
		PrivilegeThreshold: threshold,
		Now:                time.Now,
	}
}

// Build lays out every requested room. Monthly grids are aligned: all bars
// share one width and every room carries the same bands.
func (b *Builder) Build(req BuildRequest) (*Grid, error) {
	if len(req.Rooms) == 0 {
		return nil, ErrNoRooms
	}

	seen := make(map[int]bool, len(req.Rooms))
	width := 0
	for _, rh := range req.Rooms {
		if seen[rh.Room] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateRoom, rh.Room)
		}
		seen[rh.Room] = true
		if err := rh.Hours.Validate(); err != nil {
			return nil, fmt.Errorf("room %d: %w", rh.Room, err)
		}
		width = max(width, slots.MaxBarLength(rh.Hours))
	}

	var opts []slots.Option
	if req.Layout == Monthly {
		opts = append(opts, slots.WithBarWidth(width))
	}
	bookable := b.bookable(req)

	g := &Grid{Date: req.Date, Layout: req.Layout, LastSlot: -1}
	for _, rh := range req.Rooms {
		rg := &RoomGrid{Room: rh.Room, Hours: rh.Hours, LastSlot: -1}
		var bar *Bar
		for s := range slots.Generate(rh.Hours, opts...) {
			if s.BarStart || bar == nil {
				bar = &Bar{Band: s.Band}
				rg.Bars = append(rg.Bars, bar)
			}
			cell := &Cell{Room: rh.Room, Slot: s}
			if s.Padding {
				cell.State = StatePadding
			} else {
				b.prepare(cell, rh.Hours, req, bookable)
				rg.cells = append(rg.cells, cell)
				rg.LastSlot = s.Index
			}
			bar.Cells = append(bar.Cells, cell)
		}
		g.Rooms = append(g.Rooms, rg)
		g.LastSlot = max(g.LastSlot, rg.LastSlot)
	}

	if req.Layout == Monthly {
		alignBands(g, width)
	}

	metrics.IncGridBuilt(req.Layout.String())
	return g, nil
}

// bookable reports whether open cells accept new appointments.
func (b *Builder) bookable(req BuildRequest) bool {
	if req.Layout != Daily || req.StatusFilter != models.StatusActive {
		return false
	}
	if req.Privilege > b.PrivilegeThreshold {
		return true
	}
	return !dayOf(req.Date).Before(dayOf(b.now().In(req.Date.Location())))
}

func (b *Builder) prepare(cell *Cell, h models.BusinessHours, req BuildRequest, bookable bool) {
	cell.Overtime = !cell.Slot.Start.Before(h.Overtime)

	switch {
	case cell.Overtime:
		cell.State = StateDisabled
	case req.Layout == Monthly:
		cell.State = StateInactive
	case bookable:
		cell.State = StateAvailable
		if b.Registry != nil {
			cell.On(b.Registry.HandlerFor(cell.Room, cell.Slot.Index))
		}
	case req.StatusFilter != models.StatusActive:
		cell.State = StateEmpty
		if b.Notices != nil {
			cell.On(b.Notices.HandlerFor(cell.Room, cell.Slot.Index))
		}
	default:
		cell.State = StateInactive
	}
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// alignBands gives every room a bar for every band present in any room.
func alignBands(g *Grid, width int) {
	var bands []slots.Band
	for _, band := range []slots.Band{slots.Morning, slots.Afternoon, slots.Overtime} {
		for _, rg := range g.Rooms {
			if rg.hasBand(band) {
				bands = append(bands, band)
				break
			}
		}
	}

	for _, rg := range g.Rooms {
		if len(rg.Bars) == len(bands) {
			continue
		}
		aligned := make([]*Bar, 0, len(bands))
		i := 0
		for _, band := range bands {
			if i < len(rg.Bars) && rg.Bars[i].Band == band {
				aligned = append(aligned, rg.Bars[i])
				i++
				continue
			}
			filler := &Bar{Band: band}
			for range width {
				filler.Cells = append(filler.Cells, &Cell{
					Room:  rg.Room,
					Slot:  slots.Slot{Index: slots.PaddingIndex, Hour: -1, Band: band, Padding: true},
					State: StatePadding,
				})
			}
			aligned = append(aligned, filler)
		}
		rg.Bars = aligned
	}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
