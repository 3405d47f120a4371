package domain

import (
	"context"
	"time"

	"dosu/internal/models"
)

// ScheduleSource serves the clinic hours and appointments of a day or month.
type ScheduleSource interface {
	DaySchedule(ctx context.Context, date time.Time) (*models.DaySchedule, error)
	MonthSchedule(ctx context.Context, year int, month time.Month) (*models.MonthSchedule, error)
}

// SlotSelector hands a chosen slot to the appointment-creation flow and
// returns the location of its next step.
type SlotSelector interface {
	SelectSlot(ctx context.Context, sel models.SlotSelection) (string, error)
}

type AppointmentReader interface {
	Appointment(ctx context.Context, id int64) (*models.AppointmentDetail, error)
}

type DosutypeReader interface {
	Dosutypes(ctx context.Context, patientID int64) (map[string]models.Dosutype, error)
}

// Backend is everything the calendar front consumes from the schedule service.
type Backend interface {
	ScheduleSource
	SlotSelector
	AppointmentReader
	DosutypeReader
}

// Cache stores serialized backend responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ScheduleRepository is the persistence of the development schedule backend.
type ScheduleRepository interface {
	// TimeslotConfig returns the hours in force for the month, creating the
	// default configuration when none exists.
	TimeslotConfig(ctx context.Context, year int, month time.Month) (models.TimeslotConfig, error)
	SaveTimeslotConfig(ctx context.Context, cfg models.TimeslotConfig) error
	AppointmentsOn(ctx context.Context, date time.Time) ([]models.Appointment, error)
	AppointmentsInMonth(ctx context.Context, year int, month time.Month) (map[string][]models.Appointment, error)
	AppointmentDetail(ctx context.Context, id int64) (*models.AppointmentDetail, error)
	CreateAppointment(ctx context.Context, a *models.AppointmentDetail) error
	Patient(ctx context.Context, id int64) (*models.Patient, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, status models.Status) error
	Dosutypes(ctx context.Context, patientID int64) (map[string]models.Dosutype, error)
	NewPatientCounts(ctx context.Context, year int, month time.Month) ([]models.NewPatientCount, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
