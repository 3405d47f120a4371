package grid

import (
	"context"
	"testing"
	"time"

	"dosu/internal/clock"
	"dosu/internal/dispatch"
	"dosu/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDaily(t *testing.T, b *Builder, h models.BusinessHours) *Grid {
	t.Helper()
	g, err := b.Build(BuildRequest{
		Privilege:    1,
		Date:         today,
		StatusFilter: models.StatusActive,
		Rooms:        bothRooms(h),
	})
	require.NoError(t, err)
	return g
}

func TestApplyBlockIsClipped(t *testing.T) {
	morningOnly := models.BusinessHours{
		Start:    clock.MustParse("09:00"),
		End:      clock.MustParse("12:00"),
		Overtime: clock.MustParse("12:00"),
		Duration: 30 * time.Minute,
	}
	b := newBuilder()
	g := buildDaily(t, b, morningOnly)
	require.Equal(t, 5, g.LastSlot)

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 1, Room: 1, Slot: 4, SlotQuantity: 3, Status: models.StatusActive, MRN: 0},
	})
	require.NoError(t, err)

	for _, i := range []int{4, 5} {
		c := g.Cell(1, i)
		assert.Equal(t, StateBlocked, c.State)
		assert.False(t, c.Interactive())
	}
	assert.Nil(t, g.Cell(1, 6))
	assert.Equal(t, StateAvailable, g.Cell(1, 3).State)
	assert.Equal(t, StateAvailable, g.Cell(2, 4).State)
}

func TestApplyLeavesSlotsBeyondLastSlotUntouched(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	err := Applier{Registry: b.Registry}.Apply(g, 5, []models.Appointment{
		{ID: 2, Room: 2, Slot: 4, SlotQuantity: 3, Status: models.StatusActive, MRN: 1201},
	})
	require.NoError(t, err)

	assert.Equal(t, StateActive, g.Cell(2, 4).State)
	assert.Equal(t, StateActive, g.Cell(2, 5).State)
	assert.Equal(t, StateAvailable, g.Cell(2, 6).State)
	assert.True(t, g.Cell(2, 6).Interactive())
}

func TestApplyLabelsFirstCellOnly(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 9, Room: 1, Slot: 1, SlotQuantity: 3, Status: models.StatusActive, MRN: 1201, PatientName: "Kim", Note: "left knee"},
	})
	require.NoError(t, err)

	first := g.Cell(1, 1)
	require.NotNil(t, first.Label)
	assert.Equal(t, int64(1201), first.Label.MRN)
	assert.Equal(t, "Kim", first.Label.PatientName)
	assert.Equal(t, "left knee", first.Label.Note)
	assert.False(t, first.Continuation)

	for _, i := range []int{2, 3} {
		c := g.Cell(1, i)
		assert.Nil(t, c.Label)
		assert.True(t, c.Continuation)
		assert.Equal(t, int64(9), c.AppointmentID)
	}
}

func TestApplyCanceledAndNoShowStayBookable(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 3, Room: 1, Slot: 0, SlotQuantity: 1, Status: models.StatusCanceled, MRN: 77},
		{ID: 4, Room: 1, Slot: 1, SlotQuantity: 1, Status: models.StatusNoShow, MRN: 78},
	})
	require.NoError(t, err)

	assert.Equal(t, StateCanceled, g.Cell(1, 0).State)
	assert.Equal(t, StateNoShow, g.Cell(1, 1).State)
	assert.True(t, g.Cell(1, 0).Interactive())
	assert.True(t, g.Cell(1, 1).Interactive())
}

func TestApplyUnknownStatusIsReported(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 5, Room: 1, Slot: 0, SlotQuantity: 2, Status: "pending", MRN: 1},
		{ID: 6, Room: 2, Slot: 0, SlotQuantity: 1, Status: models.StatusActive, MRN: 2},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStatus)

	diags := Diagnostics(err)
	require.Len(t, diags, 1)
	assert.Equal(t, int64(5), diags[0].Appointment.ID)

	assert.Equal(t, StateUnknown, g.Cell(1, 0).State)
	assert.Equal(t, StateUnknown, g.Cell(1, 1).State)
	assert.Equal(t, StateActive, g.Cell(2, 0).State, "other appointments are still applied")
}

func TestApplyInvalidSpans(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 7, Room: 3, Slot: 0, SlotQuantity: 1, Status: models.StatusActive, MRN: 1},
		{ID: 8, Room: 1, Slot: 2, SlotQuantity: 0, Status: models.StatusActive, MRN: 1},
		{ID: 10, Room: 1, Slot: 40, SlotQuantity: 2, Status: models.StatusActive, MRN: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidSpan)
	assert.Len(t, Diagnostics(err), 2, "a span entirely past the last slot is clipped, not reported")
	assert.Equal(t, StateAvailable, g.Cell(1, 2).State)
}

func TestApplyOverlapLastWins(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	assert.NotPanics(t, func() {
		err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
			{ID: 11, Room: 1, Slot: 2, SlotQuantity: 3, Status: models.StatusActive, MRN: 1, PatientName: "A"},
			{ID: 12, Room: 1, Slot: 3, SlotQuantity: 2, Status: models.StatusCanceled, MRN: 2, PatientName: "B"},
		})
		assert.NoError(t, err)
	})

	assert.Equal(t, int64(11), g.Cell(1, 2).AppointmentID)
	assert.Equal(t, StateCanceled, g.Cell(1, 3).State)
	assert.Equal(t, "B", g.Cell(1, 3).Label.PatientName)
	assert.Equal(t, int64(12), g.Cell(1, 4).AppointmentID)
}

func TestApplyDetachesAcrossStrategySwap(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	b.Registry.SetStrategy(dispatch.StrategyFunc(func(context.Context, dispatch.Click) (dispatch.Action, error) {
		return dispatch.Action{Kind: dispatch.ActionSelect}, nil
	}))

	err := Applier{Registry: b.Registry}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 13, Room: 2, Slot: 6, SlotQuantity: 2, Status: models.StatusActive, MRN: 5},
	})
	require.NoError(t, err)

	actions, err := g.Cell(2, 6).Click(context.Background(), dispatch.Click{})
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = g.Cell(2, 8).Click(context.Background(), dispatch.Click{})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dispatch.ActionSelect, actions[0].Kind)
}

func TestApplyWithForeignRegistryReportsMismatch(t *testing.T) {
	b := newBuilder()
	g := buildDaily(t, b, weekdayHours())

	foreign := dispatch.NewRegistry(noop())
	err := Applier{Registry: foreign}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 14, Room: 1, Slot: 0, SlotQuantity: 2, Status: models.StatusActive, MRN: 5},
	})
	assert.ErrorIs(t, err, ErrHandlerMismatch)
	assert.Len(t, Diagnostics(err), 2)
	assert.True(t, g.Cell(1, 0).Interactive(), "a fresh handler never detaches the registered one")
}

func TestApplyMonthlyWithoutRegistry(t *testing.T) {
	b := newBuilder()
	g, err := b.Build(BuildRequest{Date: today, Layout: Monthly, Rooms: bothRooms(weekdayHours())})
	require.NoError(t, err)

	err = Applier{}.Apply(g, g.LastSlot, []models.Appointment{
		{ID: 15, Room: 1, Slot: 14, SlotQuantity: 4, Status: models.StatusActive, MRN: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, StateActive, g.Cell(1, 14).State)
	assert.Equal(t, StateActive, g.Cell(1, 15).State)
}
