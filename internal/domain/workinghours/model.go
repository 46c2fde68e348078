package workinghours

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Day is the stored day-of-week key of a template.
type Day string

const (
	Sunday    Day = "domingo"
	Monday    Day = "segunda"
	Tuesday   Day = "terca"
	Wednesday Day = "quarta"
	Thursday  Day = "quinta"
	Friday    Day = "sexta"
	Saturday  Day = "sabado"
)

// Days lists every key in time.Weekday order.
var Days = [7]Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// DayOf resolves the template key for t in t's own location.
func DayOf(t time.Time) Day {
	return Days[t.Weekday()]
}

func (d Day) Valid() bool {
	for _, k := range Days {
		if k == d {
			return true
		}
	}
	return false
}

const (
	// MinSlotDurationMinutes is the shortest consultation a template may declare.
	MinSlotDurationMinutes = 15
	// DefaultAppointmentMinutes applies to booked appointments that carry no duration.
	DefaultAppointmentMinutes = 30
)

// Clock is a wall-clock time of day in minutes after midnight.
type Clock int

// ParseClock accepts "HH:MM" and "HH:MM:SS" (seconds are ignored).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock panics on malformed input. Meant for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at this clock time on the calendar day of date.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TimeBlock is one contiguous working interval inside a day. A nil
// LocationID marks a teleconsultation block.
type TimeBlock struct {
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Start      Clock      `json:"start"`
	End        Clock      `json:"end"`
	Active     bool       `json:"active"`
	LunchStart *Clock     `json:"lunch_start,omitempty"`
	LunchEnd   *Clock     `json:"lunch_end,omitempty"`
}

func (b TimeBlock) Teleconsultation() bool { return b.LocationID == nil }

func (b TimeBlock) HasLunch() bool { return b.LunchStart != nil && b.LunchEnd != nil }

// Validate checks Start < End and Start <= LunchStart < LunchEnd <= End.
func (b TimeBlock) Validate() error {
	if b.Start >= b.End {
		return fmt.Errorf("start %s must be before end %s", b.Start, b.End)
	}
	if (b.LunchStart == nil) != (b.LunchEnd == nil) {
		return fmt.Errorf("lunch_start and lunch_end must be set together")
	}
	if b.HasLunch() {
		ls, le := *b.LunchStart, *b.LunchEnd
		if ls >= le {
			return fmt.Errorf("lunch start %s must be before lunch end %s", ls, le)
		}
		if ls < b.Start || le > b.End {
			return fmt.Errorf("lunch %s-%s must fall within %s-%s", ls, le, b.Start, b.End)
		}
	}
	return nil
}

// Template is a doctor's recurring weekly availability.
type Template struct {
	DoctorID                   uuid.UUID           `json:"doctor_id"`
	DefaultSlotDurationMinutes int                 `json:"default_slot_duration_minutes"`
	BufferMinutes              int                 `json:"buffer_minutes"`
	TypeDurations              map[string]int      `json:"type_durations,omitempty"`
	Days                       map[Day][]TimeBlock `json:"days"`
	UpdatedAt                  time.Time           `json:"updated_at"`
}

// Blocks returns the blocks declared for d, in declared order.
func (t *Template) Blocks(d Day) []TimeBlock {
	if t == nil || t.Days == nil {
		return nil
	}
	return t.Days[d]
}

// DurationFor resolves the slot length for an appointment type, falling back
// to the template default.
func (t *Template) DurationFor(appointmentType string) int {
	if appointmentType != "" {
		if d, ok := t.TypeDurations[appointmentType]; ok && d > 0 {
			return d
		}
	}
	return t.DefaultSlotDurationMinutes
}

// HasActiveBlocks reports whether any day has at least one active block.
func (t *Template) HasActiveBlocks() bool {
	for _, blocks := range t.Days {
		for _, b := range blocks {
			if b.Active {
				return true
			}
		}
	}
	return false
}

func (t *Template) Validate() error {
	if t.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if t.DefaultSlotDurationMinutes < MinSlotDurationMinutes {
		return fmt.Errorf("default_slot_duration_minutes must be at least %d", MinSlotDurationMinutes)
	}
	if t.BufferMinutes < 0 {
		return fmt.Errorf("buffer_minutes must not be negative")
	}
	for typ, d := range t.TypeDurations {
		if d < MinSlotDurationMinutes {
			return fmt.Errorf("duration for %q must be at least %d", typ, MinSlotDurationMinutes)
		}
	}
	if len(t.Days) == 0 {
		return fmt.Errorf("working hours are required")
	}
	for day, blocks := range t.Days {
		if !day.Valid() {
			return fmt.Errorf("unknown day %q", day)
		}
		for i, b := range blocks {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("%s block %d: %w", day, i, err)
			}
		}
	}
	return nil
}

// DefaultTemplate is offered to doctors who have not configured their hours
// yet: weekdays 08:00-18:00 with lunch 12:00-13:00, weekend 08:00-12:00
// inactive.
func DefaultTemplate(doctorID uuid.UUID) *Template {
	lunchStart, lunchEnd := MustClock("12:00"), MustClock("13:00")
	weekday := func() []TimeBlock {
		ls, le := lunchStart, lunchEnd
		return []TimeBlock{{
			Start:      MustClock("08:00"),
			End:        MustClock("18:00"),
			Active:     true,
			LunchStart: &ls,
			LunchEnd:   &le,
		}}
	}
	weekend := func() []TimeBlock {
		return []TimeBlock{{Start: MustClock("08:00"), End: MustClock("12:00"), Active: false}}
	}
	return &Template{
		DoctorID:                   doctorID,
		DefaultSlotDurationMinutes: 30,
		Days: map[Day][]TimeBlock{
			Sunday:    weekend(),
			Monday:    weekday(),
			Tuesday:   weekday(),
			Wednesday: weekday(),
			Thursday:  weekday(),
			Friday:    weekday(),
			Saturday:  weekend(),
		},
	}
}
