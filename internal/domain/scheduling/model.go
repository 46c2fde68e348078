package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
)

const (
	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusNoShow      = "no_show"
	StatusRescheduled = "rescheduled"
)

// OccupyingStatuses are the statuses that block a slot.
var OccupyingStatuses = []string{StatusScheduled, StatusConfirmed}

func Occupies(status string) bool {
	return status == StatusScheduled || status == StatusConfirmed
}

const (
	TypeInPerson         = "presencial"
	TypeTeleconsultation = "teleconsulta"
)

// Appointment is a committed booking.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	StartAt         time.Time  `db:"start_at" json:"start_at"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	Type            string     `db:"type" json:"type"`
	LocationID      *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	Specialty       *string    `db:"specialty" json:"specialty,omitempty"`
	Status          string     `db:"status" json:"status"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	RescheduledFrom *uuid.UUID `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason    *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// ExistingAppointment is the projection the slot generator consumes.
type ExistingAppointment struct {
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
}

// Interval returns [start, end). A zero duration counts as the default
// appointment length.
func (e ExistingAppointment) Interval() (time.Time, time.Time) {
	d := e.DurationMinutes
	if d <= 0 {
		d = workinghours.DefaultAppointmentMinutes
	}
	return e.StartAt, e.StartAt.Add(time.Duration(d) * time.Minute)
}

// Covers reports whether t falls inside the appointment interval.
func (e ExistingAppointment) Covers(t time.Time) bool {
	start, end := e.Interval()
	return !t.Before(start) && t.Before(end)
}

// Hold is a short-lived exclusive reservation of a slot during checkout.
type Hold struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	DoctorID   uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	LocationID *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	PatientID  *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	SlotAt     time.Time  `db:"slot_at" json:"slot_at"`
	SessionID  string     `db:"session_id" json:"session_id"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Live reports whether the hold still reserves its slot at now.
func (h *Hold) Live(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

// Key identifies the slot a hold reserves.
func (h *Hold) Key() string {
	return HoldKey(h.DoctorID, h.LocationID, h.SlotAt)
}

// HoldKey is the exclusivity key for (doctor, location, slot).
func HoldKey(doctorID uuid.UUID, locationID *uuid.UUID, slotAt time.Time) string {
	loc := "tele"
	if locationID != nil {
		loc = locationID.String()
	}
	return doctorID.String() + ":" + loc + ":" + slotAt.UTC().Format(time.RFC3339)
}

// LocationKey renders a nullable location for storage keys.
func LocationKey(locationID *uuid.UUID) string {
	if locationID == nil {
		return ""
	}
	return locationID.String()
}

const (
	ReasonBooked = "booked"
	ReasonHeld   = "held"
	ReasonLunch  = "lunch"
)

// TimeSlot is a computed bookable start time. Never persisted.
type TimeSlot struct {
	Time       string     `json:"time"`
	StartAt    time.Time  `json:"start_at"`
	Available  bool       `json:"available"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Block      int        `json:"block"`
	Reason     string     `json:"reason,omitempty"`
}

// LocationSlots groups the slots of one location (nil for teleconsultation).
type LocationSlots struct {
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Slots      []TimeSlot `json:"slots"`
}

const (
	PeriodMorning   = "morning"
	PeriodAfternoon = "afternoon"
	PeriodEvening   = "evening"
	PeriodAny       = "any"
)

const (
	WaitlistActive    = "active"
	WaitlistNotified  = "notified"
	WaitlistCancelled = "cancelled"
)

// WaitlistEntry records a patient waiting for a slot with a doctor on a day.
type WaitlistEntry struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	PreferredDate time.Time `db:"preferred_date" json:"preferred_date"`
	Period        string    `db:"period" json:"period"`
	Specialty     *string   `db:"specialty" json:"specialty,omitempty"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
