package grid

import (
	"errors"
	"fmt"

	"dosu/internal/dispatch"
	"dosu/internal/models"
)

var (
	// ErrUnknownStatus reports an appointment outside the closed status set.
	ErrUnknownStatus = errors.New("unknown appointment status")
	// ErrInvalidSpan reports an appointment that cannot be placed at all.
	ErrInvalidSpan = errors.New("invalid appointment span")
	// ErrHandlerMismatch reports an available cell whose booking handler
	// could not be detached by identity.
	ErrHandlerMismatch = errors.New("booking handler not attached")
)

// AppointmentError ties a diagnostic to the offending appointment.
type AppointmentError struct {
	Appointment models.Appointment
	Err         error
}

func (e *AppointmentError) Error() string {
	a := e.Appointment
	return fmt.Sprintf("appointment %d (room %d, slot %d, qty %d, status %q): %v",
		a.ID, a.Room, a.Slot, a.SlotQuantity, a.Status, e.Err)
}

func (e *AppointmentError) Unwrap() error {
	return e.Err
}

// Applier overlays appointments onto built grids.
type Applier struct {
	// Registry must be the registry the grid was built with, nil for inert grids.
	Registry *dispatch.Registry
}

// Apply classifies every cell covered by appts. Spans are clipped at
// lastSlot; clipping is silent. Appointments that cannot be classified or
// placed are reported through the returned error, which joins one
// *AppointmentError per problem, while the rest are still applied. When
// spans overlap the later appointment wins.
func (a Applier) Apply(g *Grid, lastSlot int, appts []models.Appointment) error {
	var errs []error
	for _, appt := range appts {
		if err := a.applyOne(g, lastSlot, appt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a Applier) applyOne(g *Grid, lastSlot int, appt models.Appointment) error {
	room := g.Room(appt.Room)
	if room == nil {
		return &AppointmentError{Appointment: appt, Err: fmt.Errorf("%w: room %d not in grid", ErrInvalidSpan, appt.Room)}
	}
	if appt.SlotQuantity < 1 || appt.Slot < 0 {
		return &AppointmentError{Appointment: appt, Err: ErrInvalidSpan}
	}
	first, last, ok := appt.Span(lastSlot)
	if !ok {
		return nil
	}

	state := classify(appt)
	detach := state == StateActive || state == StateBlocked

	var errs []error
	if state == StateUnknown {
		errs = append(errs, &AppointmentError{Appointment: appt, Err: ErrUnknownStatus})
	}

	for i := first; i <= last; i++ {
		cell := room.Cell(i)
		if cell == nil {
			continue
		}
		wasAvailable := cell.State == StateAvailable

		cell.State = state
		cell.Status = appt.Status
		cell.AppointmentID = appt.ID
		if i == first {
			cell.Label = &Label{MRN: appt.MRN, PatientName: appt.PatientName, Note: appt.Note}
			cell.Continuation = false
		} else {
			cell.Label = nil
			cell.Continuation = true
		}

		if detach && a.Registry != nil {
			removed := cell.Off(a.Registry.HandlerFor(appt.Room, i))
			if wasAvailable && !removed {
				errs = append(errs, &AppointmentError{
					Appointment: appt,
					Err:         fmt.Errorf("%w: slot %d", ErrHandlerMismatch, i),
				})
			}
		}
	}
	return errors.Join(errs...)
}

func classify(appt models.Appointment) State {
	switch appt.Status {
	case models.StatusActive:
		if appt.MRN == models.BlockedMRN {
			return StateBlocked
		}
		return StateActive
	case models.StatusCanceled:
		return StateCanceled
	case models.StatusNoShow:
		return StateNoShow
	}
	return StateUnknown
}

// Diagnostics flattens the error returned by Apply.
func Diagnostics(err error) []*AppointmentError {
	if err == nil {
		return nil
	}
	var out []*AppointmentError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case *AppointmentError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
