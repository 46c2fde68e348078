package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventHoldCreated            = "hold.created"
	EventHoldReleased           = "hold.released"
	EventWorkingHoursChanged    = "working_hours.changed"
	EventWaitlistJoined         = "waitlist.joined"
)

// Event is emitted after a scheduling state change commits.
type Event struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	SlotAt        *time.Time `json:"slot_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Broker is the transport a broker-backed publisher writes to.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type brokerPublisher struct {
	broker Broker
}

// NewBrokerPublisher encodes events as JSON and routes them by type.
func NewBrokerPublisher(b Broker) EventPublisher {
	return &brokerPublisher{broker: b}
}

func (p *brokerPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.broker.Publish(ctx, e.Type, body)
}

// Invalidator drops cached availability for a doctor.
type Invalidator interface {
	Invalidate(doctorID uuid.UUID)
}

// InvalidationHandler consumes scheduling events published by any instance
// and drops the affected doctor's cached availability locally.
func InvalidationHandler(inv Invalidator, logger zerolog.Logger) func(ctx context.Context, routingKey string, body []byte) error {
	return func(_ context.Context, routingKey string, body []byte) error {
		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			return fmt.Errorf("decode %s event: %w", routingKey, err)
		}
		if e.DoctorID == uuid.Nil {
			return nil
		}
		inv.Invalidate(e.DoctorID)
		logger.Debug().Str("event", e.Type).Str("doctor_id", e.DoctorID.String()).Msg("availability invalidated")
		return nil
	}
}

// TemplateChangeNotifier announces stored working hours so every instance
// drops the doctor's cached availability.
func TemplateChangeNotifier(pub EventPublisher, logger zerolog.Logger) func(doctorID uuid.UUID) {
	return func(doctorID uuid.UUID) {
		publish(context.Background(), pub, logger, newEvent(EventWorkingHoursChanged, doctorID, time.Now()))
	}
}

func newEvent(typ string, doctorID uuid.UUID, now time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, DoctorID: doctorID, OccurredAt: now}
}

// publish never fails the caller; the state change has already committed.
func publish(ctx context.Context, pub EventPublisher, logger zerolog.Logger, e Event) {
	if err := pub.Publish(ctx, e); err != nil {
		logger.Warn().Err(err).Str("event", e.Type).Str("doctor_id", e.DoctorID.String()).Msg("event publish failed")
	}
}
