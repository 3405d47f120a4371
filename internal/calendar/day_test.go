package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"dosu/internal/dispatch"
	"dosu/internal/events"
	"dosu/internal/grid"
	"dosu/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	monday  = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	mondayT = monday.Add(9 * time.Hour)
)

func daySchedule(appts ...models.Appointment) *models.DaySchedule {
	return &models.DaySchedule{TimeslotConfig: models.DefaultTimeslotConfig(), Schedule: appts}
}

func newTestDay(src *MockSource, sel *MockSelector, bus *recordingBus) *Day {
	d := NewDay(src, sel, bus, 2, nil)
	d.Now = func() time.Time { return mondayT }
	return d
}

func TestDayBuildAppliesAfterBuild(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 1, Date: "2024-03-04", Room: 1, Slot: 2, SlotQuantity: 2, MRN: 1201, PatientName: "Kim", Status: models.StatusActive},
		models.Appointment{ID: 2, Date: "2024-03-04", Room: 2, Slot: 0, SlotQuantity: 1, MRN: 0, Status: models.StatusActive},
	), nil)

	d := newTestDay(src, new(MockSelector), &recordingBus{})
	page, err := d.Build(context.Background(), DayRequest{Date: monday, Privilege: 1})
	require.NoError(t, err)

	assert.Equal(t, ModeCreate, page.Mode)
	assert.Equal(t, models.StatusActive, page.Filter)
	assert.Equal(t, "2024-03-04", page.DateString())

	// default weekday hours 09:00-21:00 with lunch: 8 + 8 + 6 slots
	assert.Equal(t, 21, page.Grid.LastSlot)
	assert.Equal(t, grid.StateActive, page.Grid.Cell(1, 2).State)
	assert.Equal(t, grid.StateActive, page.Grid.Cell(1, 3).State)
	assert.Equal(t, grid.StateBlocked, page.Grid.Cell(2, 0).State)
	assert.Equal(t, grid.StateAvailable, page.Grid.Cell(1, 4).State)
	assert.Empty(t, page.Diagnostics)

	assert.Equal(t, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC), page.Prev, "Sunday is skipped")
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), page.Next)
	src.AssertExpectations(t)
}

func TestDayBuildFetchFailure(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(nil, errors.New("connection refused"))
	bus := &recordingBus{}

	page, err := newTestDay(src, new(MockSelector), bus).Build(context.Background(), DayRequest{Date: monday})
	assert.Nil(t, page)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, []string{events.EventScheduleFetchFailed}, bus.events)
}

func TestDayBuildBadConfig(t *testing.T) {
	cfg := models.DefaultTimeslotConfig()
	cfg.WeekdayStart = "9am"
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(&models.DaySchedule{TimeslotConfig: cfg}, nil)

	_, err := newTestDay(src, new(MockSelector), &recordingBus{}).Build(context.Background(), DayRequest{Date: monday})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wd_start_hour")
}

func TestDayBuildReportsDiagnostics(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 3, Room: 1, Slot: 0, SlotQuantity: 1, MRN: 7, Status: "archived"},
	), nil)
	bus := &recordingBus{}

	page, err := newTestDay(src, new(MockSelector), bus).Build(context.Background(), DayRequest{Date: monday})
	require.NoError(t, err)
	require.Len(t, page.Diagnostics, 1)
	assert.ErrorIs(t, page.Diagnostics[0], grid.ErrUnknownStatus)
	assert.Equal(t, grid.StateUnknown, page.Grid.Cell(1, 0).State)
	assert.Contains(t, bus.events, events.EventOccupancyDiagnostic)
}

func TestDayClickCreate(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(), nil)
	sel := new(MockSelector)
	sel.On("SelectSlot", mock.Anything, models.SlotSelection{Date: "2024-03-04", Room: 2, Slot: 5}).
		Return("/dosusess/select_patient_to_create_dosusess", nil).Once()
	bus := &recordingBus{}

	actions, err := newTestDay(src, sel, bus).Click(context.Background(), DayRequest{Date: monday, Privilege: 1}, 2, 5)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dispatch.ActionRedirect, actions[0].Kind)
	assert.Equal(t, "/dosusess/select_patient_to_create_dosusess", actions[0].Location)
	assert.Equal(t, []string{events.EventSlotSelected}, bus.events)
	sel.AssertExpectations(t)
}

func TestDayClickOccupiedDoesNotBook(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 4, Room: 1, Slot: 3, SlotQuantity: 2, MRN: 55, Status: models.StatusActive},
	), nil)
	sel := new(MockSelector)

	actions, err := newTestDay(src, sel, &recordingBus{}).Click(context.Background(), DayRequest{Date: monday}, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []dispatch.Action{{Kind: dispatch.ActionNone}}, actions)
	sel.AssertNotCalled(t, "SelectSlot", mock.Anything, mock.Anything)
}

func TestDayClickSelectorFailure(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(), nil)
	sel := new(MockSelector)
	sel.On("SelectSlot", mock.Anything, mock.Anything).Return("", errors.New("403 csrf"))

	_, err := newTestDay(src, sel, &recordingBus{}).Click(context.Background(), DayRequest{Date: monday}, 1, 0)
	assert.Error(t, err)
}

func TestDayClickUpdateMode(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(), nil)

	actions, err := newTestDay(src, new(MockSelector), &recordingBus{}).
		Click(context.Background(), DayRequest{Date: monday, Mode: ModeUpdate, Filter: models.StatusCanceled}, 1, 6)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dispatch.ActionSelect, actions[0].Kind)
	assert.Equal(t, map[string]string{"update-room": "1", "update-date": "2024-03-04", "update-slot": "6"}, actions[0].Fields)
}

func TestDayClickNonActiveFilterShowsNotice(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 5, Room: 1, Slot: 1, SlotQuantity: 1, MRN: 9, Status: models.StatusCanceled},
	), nil)
	d := newTestDay(src, new(MockSelector), &recordingBus{})

	actions, err := d.Click(context.Background(), DayRequest{Date: monday, Filter: models.StatusCanceled}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionNotice, actions[0].Kind)
	assert.Equal(t, SwitchToActiveMessage, actions[0].Message)

	actions, err = d.Click(context.Background(), DayRequest{Date: monday, Filter: models.StatusCanceled}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionNone, actions[0].Kind, "occupied cells no longer show the notice")
}

func TestDayClickOutsideGrid(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(), nil)

	_, err := newTestDay(src, new(MockSelector), &recordingBus{}).Click(context.Background(), DayRequest{Date: monday}, 1, 99)
	assert.ErrorIs(t, err, ErrNoCell)
}

func TestNavigate(t *testing.T) {
	d := newTestDay(new(MockSource), new(MockSelector), &recordingBus{})

	saturday := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	next, err := d.Navigate(saturday, 1, ModeCreate)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())

	_, err = d.Navigate(monday, -1, ModeUpdate)
	assert.ErrorIs(t, err, ErrPastDate)

	prev, err := d.Navigate(monday.AddDate(0, 0, 1), -1, ModeUpdate)
	require.NoError(t, err)
	assert.Equal(t, monday, prev)

	prev, err = d.Navigate(monday, -1, ModeView)
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, prev.Weekday())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeCreate, m)

	m, err = ParseMode("update")
	require.NoError(t, err)
	assert.Equal(t, ModeUpdate, m)

	_, err = ParseMode("delete")
	assert.Error(t, err)
}

func TestDayBuildFiltersByStatus(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 7, Room: 1, Slot: 0, SlotQuantity: 1, MRN: 4, Status: models.StatusActive},
		models.Appointment{ID: 6, Room: 1, Slot: 0, SlotQuantity: 1, MRN: 3, Status: models.StatusCanceled},
	), nil)
	d := newTestDay(src, new(MockSelector), &recordingBus{})

	page, err := d.Build(context.Background(), DayRequest{Date: monday})
	require.NoError(t, err)
	require.Len(t, page.Schedule, 2, "active view keeps every status")
	assert.Equal(t, grid.StateActive, page.Grid.Cell(1, 0).State)
	assert.Equal(t, int64(7), page.Grid.Cell(1, 0).AppointmentID, "active wins the overlap")

	page, err = d.Build(context.Background(), DayRequest{Date: monday, Filter: models.StatusCanceled})
	require.NoError(t, err)
	require.Len(t, page.Schedule, 1)
	assert.Equal(t, grid.StateCanceled, page.Grid.Cell(1, 0).State)
	assert.Equal(t, int64(6), page.Grid.Cell(1, 0).AppointmentID)
}

func TestDayBuildActiveViewShowsCanceledAndNoShow(t *testing.T) {
	src := new(MockSource)
	src.On("DaySchedule", mock.Anything, monday).Return(daySchedule(
		models.Appointment{ID: 8, Room: 1, Slot: 3, SlotQuantity: 2, MRN: 21, PatientName: "Han", Status: models.StatusCanceled},
		models.Appointment{ID: 9, Room: 2, Slot: 1, SlotQuantity: 1, MRN: 22, PatientName: "Cho", Status: models.StatusNoShow},
	), nil)
	d := newTestDay(src, new(MockSelector), &recordingBus{})

	page, err := d.Build(context.Background(), DayRequest{Date: monday})
	require.NoError(t, err)
	require.Len(t, page.Schedule, 2)

	canceled := page.Grid.Cell(1, 3)
	assert.Equal(t, grid.StateCanceled, canceled.State)
	assert.Equal(t, int64(8), canceled.AppointmentID)
	require.NotNil(t, canceled.Label)
	assert.Equal(t, "Han", canceled.Label.PatientName)
	assert.True(t, canceled.Interactive(), "canceled slot stays bookable")

	tail := page.Grid.Cell(1, 4)
	assert.Equal(t, grid.StateCanceled, tail.State)
	assert.True(t, tail.Continuation)

	noshow := page.Grid.Cell(2, 1)
	assert.Equal(t, grid.StateNoShow, noshow.State)
	require.NotNil(t, noshow.Label)
	assert.Equal(t, int64(22), noshow.Label.MRN)
	assert.True(t, noshow.Interactive())
	assert.Empty(t, page.Diagnostics)
}
