// Package grid lays out the slot grid of a clinic day and overlays the
// day's appointments onto it.
package grid

import (
	"context"
	"errors"
	"time"

	"dosu/internal/dispatch"
	"dosu/internal/models"
	"dosu/internal/slots"
)

// State is the display state of a cell.
type State string

const (
	StateInactive  State = "inactive"
	StateAvailable State = "available"
	StateEmpty     State = "empty"
	StateDisabled  State = "disabled"
	StatePadding   State = "padding"
	StateActive    State = "active"
	StateBlocked   State = "blocked"
	StateCanceled  State = "canceled"
	StateNoShow    State = "noshow"
	StateUnknown   State = "unknown"
)

// Occupied reports whether the state comes from an appointment.
func (s State) Occupied() bool {
	switch s {
	case StateActive, StateBlocked, StateCanceled, StateNoShow, StateUnknown:
		return true
	}
	return false
}

// Layout selects between the interactive day grid and the compact month grid.
type Layout int

const (
	Daily Layout = iota
	Monthly
)

func (l Layout) String() string {
	if l == Monthly {
		return "monthly"
	}
	return "daily"
}

// Label is the patient text shown on the first cell of an appointment.
type Label struct {
	MRN         int64
	PatientName string
	Note        string
}

// Cell is one position of a room's bar.
type Cell struct {
	Room     int
	Slot     slots.Slot
	State    State
	Overtime bool

	AppointmentID int64
	Status        models.Status
	Label         *Label
	// Continuation marks non-first cells of a multi-slot appointment.
	Continuation bool

	listeners []*dispatch.Handler
}

// Index is the slot index, slots.PaddingIndex for placeholders.
func (c *Cell) Index() int {
	return c.Slot.Index
}

// On attaches h unless it is already attached.
func (c *Cell) On(h *dispatch.Handler) {
	for _, l := range c.listeners {
		if l == h {
			return
		}
	}
	c.listeners = append(c.listeners, h)
}

// Off detaches exactly h and reports whether it was attached.
func (c *Cell) Off(h *dispatch.Handler) bool {
	for i, l := range c.listeners {
		if l == h {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cell) Listeners() []*dispatch.Handler {
	return c.listeners
}

func (c *Cell) Interactive() bool {
	return len(c.listeners) > 0
}

// Click fires every attached listener with the cell's current state.
func (c *Cell) Click(ctx context.Context, click dispatch.Click) ([]dispatch.Action, error) {
	click.Room = c.Room
	click.Slot = c.Slot.Index
	click.State = dispatch.CellState(c.State)

	var (
		actions []dispatch.Action
		errs    []error
	)
	for _, h := range c.listeners {
		action, err := h.Handle(ctx, click)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, action)
	}
	return actions, errors.Join(errs...)
}

// Bar is a contiguous band of cells rendered as one unit.
type Bar struct {
	Band  slots.Band
	Cells []*Cell
}

// RoomGrid is the layout of one room.
type RoomGrid struct {
	Room  int
	Hours models.BusinessHours
	Bars  []*Bar
	// LastSlot is the highest real slot index, -1 for an empty day.
	LastSlot int

	cells []*Cell
}

// Cell returns the real cell with index i, nil when there is none.
func (r *RoomGrid) Cell(i int) *Cell {
	if i < 0 || i >= len(r.cells) {
		return nil
	}
	return r.cells[i]
}

// Cells returns the real cells in index order.
func (r *RoomGrid) Cells() []*Cell {
	return r.cells
}

func (r *RoomGrid) hasBand(b slots.Band) bool {
	for _, bar := range r.Bars {
		if bar.Band == b {
			return true
		}
	}
	return false
}

// Grid is the composite of all rooms for one day.
type Grid struct {
	Date   time.Time
	Layout Layout
	Rooms  []*RoomGrid
	// LastSlot is the highest real slot index across rooms.
	LastSlot int
}

// Room returns the grid of room n, nil when the room is not laid out.
func (g *Grid) Room(n int) *RoomGrid {
	for _, r := range g.Rooms {
		if r.Room == n {
			return r
		}
	}
	return nil
}

// Cell returns the cell of (room, slot), nil when absent.
func (g *Grid) Cell(room, slot int) *Cell {
	r := g.Room(room)
	if r == nil {
		return nil
	}
	return r.Cell(slot)
}
