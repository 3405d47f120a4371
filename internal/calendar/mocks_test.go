package calendar

import (
	"context"
	"time"

	"dosu/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) DaySchedule(ctx context.Context, date time.Time) (*models.DaySchedule, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DaySchedule), args.Error(1)
}

func (m *MockSource) MonthSchedule(ctx context.Context, year int, month time.Month) (*models.MonthSchedule, error) {
	args := m.Called(ctx, year, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MonthSchedule), args.Error(1)
}

type MockSelector struct {
	mock.Mock
}

func (m *MockSelector) SelectSlot(ctx context.Context, sel models.SlotSelection) (string, error) {
	args := m.Called(ctx, sel)
	return args.String(0), args.Error(1)
}

type recordingBus struct {
	events []string
}

func (b *recordingBus) PublishJSON(eventType string, _ interface{}) error {
	b.events = append(b.events, eventType)
	return nil
}
