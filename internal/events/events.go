package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	EventSlotSelected        = "slot_selected"
	EventAppointmentCreated  = "appointment_created"
	EventOccupancyDiagnostic = "occupancy_diagnostic"
	EventScheduleFetchFailed = "schedule_fetch_failed"
	EventAppointmentStatus   = "appointment_status_changed"
)

// SlotEventPayload describes a slot that entered the creation flow.
type SlotEventPayload struct {
	Date     string `json:"date"`
	Room     int    `json:"room"`
	Slot     int    `json:"slot"`
	Mode     string `json:"mode"`
	Location string `json:"location,omitempty"`
}

// DiagnosticPayload describes an appointment the grid could not place.
type DiagnosticPayload struct {
	Date          string `json:"date"`
	AppointmentID int64  `json:"appointment_id"`
	Room          int    `json:"room"`
	Slot          int    `json:"slot"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// AppointmentPayload is the snapshot published by the schedule backend.
type AppointmentPayload struct {
	AppointmentID int64  `json:"appointment_id"`
	Date          string `json:"date"`
	Room          int    `json:"room"`
	Slot          int    `json:"slot"`
	SlotQuantity  int    `json:"slot_quantity"`
	Status        string `json:"status"`
}

// Event is one published occurrence. ID is assigned by the bus in
// publish order.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus fans events out to in-process subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventHandler
	seq         atomic.Int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every handler of the event type in subscription order.
// A failing handler does not stop the others; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := b.subscribers[event.Type]
	b.mu.RUnlock()

	event.ID = b.seq.Add(1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handle := range handlers {
		if err := handle(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON encodes payload as the event body. A nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return b.Publish(&Event{Type: eventType, Payload: raw})
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
