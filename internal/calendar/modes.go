package calendar

import (
	"context"
	"fmt"
	"strconv"

	"dosu/internal/dispatch"
	"dosu/internal/domain"
	"dosu/internal/events"
	"dosu/internal/grid"
	"dosu/internal/metrics"
	"dosu/internal/models"

	"github.com/rs/zerolog"
)

// Mode is the interaction mode of a day page.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
	ModeView   Mode = "view"
)

// SwitchToActiveMessage is shown when a slot is clicked outside the active filter.
const SwitchToActiveMessage = "Switch the status filter to Active to book a slot."

// ParseMode defaults to ModeCreate.
func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case "", ModeCreate:
		return ModeCreate, nil
	case ModeUpdate, ModeView:
		return Mode(v), nil
	}
	return "", fmt.Errorf("unknown mode %q", v)
}

// CreateStrategy starts the appointment-creation flow for the clicked slot.
type CreateStrategy struct {
	Selector domain.SlotSelector
	Events   domain.EventPublisher
	Logger   *zerolog.Logger
}

func (s CreateStrategy) HandleSlot(ctx context.Context, click dispatch.Click) (dispatch.Action, error) {
	location, err := s.Selector.SelectSlot(ctx, models.SlotSelection{Date: click.Date, Room: click.Room, Slot: click.Slot})
	if err != nil {
		return dispatch.Action{Kind: dispatch.ActionNone}, fmt.Errorf("select slot %d in room %d: %w", click.Slot, click.Room, err)
	}

	s.Logger.Info().
		Str("date", click.Date).
		Int("room", click.Room).
		Int("slot", click.Slot).
		Str("location", location).
		Msg("slot selected")
	if s.Events != nil {
		_ = s.Events.PublishJSON(events.EventSlotSelected, events.SlotEventPayload{
			Date: click.Date, Room: click.Room, Slot: click.Slot, Mode: string(ModeCreate), Location: location,
		})
	}
	metrics.IncSlotClick(string(dispatch.ActionRedirect))
	return dispatch.Action{Kind: dispatch.ActionRedirect, Location: location}, nil
}

// UpdateStrategy picks the clicked slot as the new position of an existing
// appointment. The page copies Fields into its update form.
type UpdateStrategy struct {
	Events domain.EventPublisher
}

func (s UpdateStrategy) HandleSlot(_ context.Context, click dispatch.Click) (dispatch.Action, error) {
	if grid.State(click.State) != grid.StateAvailable {
		return dispatch.Action{Kind: dispatch.ActionNone}, nil
	}
	if s.Events != nil {
		_ = s.Events.PublishJSON(events.EventSlotSelected, events.SlotEventPayload{
			Date: click.Date, Room: click.Room, Slot: click.Slot, Mode: string(ModeUpdate),
		})
	}
	metrics.IncSlotClick(string(dispatch.ActionSelect))
	return dispatch.Action{
		Kind: dispatch.ActionSelect,
		Fields: map[string]string{
			"update-room": strconv.Itoa(click.Room),
			"update-date": click.Date,
			"update-slot": strconv.Itoa(click.Slot),
		},
	}, nil
}

// ViewStrategy ignores clicks.
type ViewStrategy struct {
	Logger *zerolog.Logger
}

func (s ViewStrategy) HandleSlot(_ context.Context, click dispatch.Click) (dispatch.Action, error) {
	s.Logger.Debug().Int("room", click.Room).Int("slot", click.Slot).Msg("click ignored in view mode")
	metrics.IncSlotClick(string(dispatch.ActionNone))
	return dispatch.Action{Kind: dispatch.ActionNone}, nil
}

// NoticeStrategy nudges the user towards the active filter while the cell
// is still empty.
type NoticeStrategy struct{}

func (NoticeStrategy) HandleSlot(_ context.Context, click dispatch.Click) (dispatch.Action, error) {
	if grid.State(click.State) != grid.StateEmpty {
		return dispatch.Action{Kind: dispatch.ActionNone}, nil
	}
	metrics.IncSlotClick(string(dispatch.ActionNotice))
	return dispatch.Action{Kind: dispatch.ActionNotice, Message: SwitchToActiveMessage}, nil
}
