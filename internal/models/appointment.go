package models

import (
	"fmt"
	"strings"
	"time"
)

// Status of an appointment (dosusess).
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusNoShow   Status = "noshow"
)

// Known reports whether s belongs to the closed status set.
func (s Status) Known() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusNoShow:
		return true
	}
	return false
}

// ParseStatus validates a status coming from a request or a filter.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Known() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

const (
	// BlockedMRN marks an administrative room block instead of a patient.
	BlockedMRN int64 = 0

	// AdminPrivilege is the privilege level of clinic administrators.
	AdminPrivilege = 5

	// DateLayout is the wire format of appointment dates.
	DateLayout = "2006-01-02"
)

// Rooms lists the treatment rooms in display order.
var Rooms = []int{1, 2}

// ValidRoom reports whether room is one of the clinic rooms.
func ValidRoom(room int) bool {
	for _, r := range Rooms {
		if r == room {
			return true
		}
	}
	return false
}

// Appointment is one schedule entry occupying SlotQuantity contiguous slots
// starting at Slot in Room.
type Appointment struct {
	ID           int64  `json:"id"`
	Date         string `json:"date"`
	Room         int    `json:"room"`
	Slot         int    `json:"slot"`
	SlotQuantity int    `json:"slot_quantity"`
	MRN          int64  `json:"mrn"`
	PatientName  string `json:"patient_name"`
	Note         string `json:"note"`
	Status       Status `json:"status"`
}

// Blocked reports whether the entry is an administrative block.
func (a Appointment) Blocked() bool {
	return a.Status == StatusActive && a.MRN == BlockedMRN
}

// Span returns the first and last slot occupied, clipped to lastSlot.
// ok is false when nothing of the span lies inside [0, lastSlot].
func (a Appointment) Span(lastSlot int) (first, last int, ok bool) {
	first = a.Slot
	last = a.Slot + a.SlotQuantity - 1
	if last > lastSlot {
		last = lastSlot
	}
	if first < 0 || a.SlotQuantity < 1 || first > last {
		return 0, 0, false
	}
	return first, last, true
}

// Day parses Date in loc.
func (a Appointment) Day(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, a.Date, loc)
}

// AppointmentDetail is the display-ready record behind a detail modal.
type AppointmentDetail struct {
	Appointment
	DateDisplay  string `json:"date_display"`
	SlotDisplay  string `json:"slot_display"`
	DosutypeID   int64  `json:"dosutype_id"`
	DosutypeName string `json:"dosutype_name"`
	Price        int64  `json:"price"`
	WorkerID     int64  `json:"worker_id"`
	WorkerName   string `json:"worker_name"`
	PatientID    int64  `json:"patient_id"`
	Tel          string `json:"tel"`
	PatientNote  string `json:"patient_note"`
}

// Dosutype is a treatment type a patient can be booked for. Types named
// "off..." are reserved for room blocks.
type Dosutype struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	OrderCode    string `json:"order_code" yaml:"order_code"`
	SlotQuantity int    `json:"slot_quantity" yaml:"slot_quantity"`
	Price        int64  `json:"price" yaml:"price"`
	Available    bool   `json:"available" yaml:"available"`
}

// Blocking reports whether the type books an administrative block.
func (d Dosutype) Blocking() bool {
	return strings.HasPrefix(d.Name, "off")
}

// Patient is a clinic patient. MRN BlockedMRN is the placeholder patient of
// room blocks.
type Patient struct {
	ID   int64  `json:"id" yaml:"id"`
	MRN  int64  `json:"mrn" yaml:"mrn"`
	Name string `json:"name" yaml:"name"`
	Sex  string `json:"sex" yaml:"sex"`
	Tel  string `json:"tel" yaml:"tel"`
	Note string `json:"note" yaml:"note"`
}

// Worker is a therapist assigned to a room.
type Worker struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Room      int    `json:"room" yaml:"room"`
	Available bool   `json:"available" yaml:"available"`
}

// NewPatientCount is the per-worker tally of first visits in a month.
type NewPatientCount struct {
	WorkerName   string   `json:"worker_name"`
	Count        int      `json:"count"`
	PatientNames []string `json:"patient_names"`
}

// DaySchedule is the backend answer for a single day.
type DaySchedule struct {
	TimeslotConfig TimeslotConfig `json:"timeslotConfig"`
	Schedule       []Appointment  `json:"schedule"`
}

// MonthSchedule is the backend answer for a month. Schedule is keyed by the
// day of month rendered as a decimal string.
type MonthSchedule struct {
	TimeslotConfig  TimeslotConfig           `json:"timeslotConfig"`
	Schedule        map[string][]Appointment `json:"schedule"`
	NewPatientCount []NewPatientCount        `json:"newPatientCount"`
}

// ForDay returns the appointments of day.
func (m MonthSchedule) ForDay(day int) []Appointment {
	return m.Schedule[fmt.Sprint(day)]
}

// SlotSelection is the request that starts the appointment-creation flow.
type SlotSelection struct {
	Date string `json:"sess_date"`
	Room int    `json:"room"`
	Slot int    `json:"slot"`
}
