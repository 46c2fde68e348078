package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
)

type filterKind int

const (
	filterAny filterKind = iota
	filterTele
	filterLocation
)

// LocationFilter selects which blocks of a day take part in generation.
type LocationFilter struct {
	kind filterKind
	id   uuid.UUID
}

// AnyLocation matches every block.
func AnyLocation() LocationFilter { return LocationFilter{kind: filterAny} }

// Teleconsultation matches only blocks without a location.
func Teleconsultation() LocationFilter { return LocationFilter{kind: filterTele} }

// AtLocation matches blocks tied to id. Teleconsultation blocks never match.
func AtLocation(id uuid.UUID) LocationFilter { return LocationFilter{kind: filterLocation, id: id} }

// ForLocation picks Teleconsultation for nil and AtLocation otherwise.
func ForLocation(id *uuid.UUID) LocationFilter {
	if id == nil {
		return Teleconsultation()
	}
	return AtLocation(*id)
}

func (f LocationFilter) Matches(b workinghours.TimeBlock) bool {
	switch f.kind {
	case filterTele:
		return b.LocationID == nil
	case filterLocation:
		return b.LocationID != nil && *b.LocationID == f.id
	}
	return true
}

// MatchesLocation applies the filter to a hold or appointment location.
func (f LocationFilter) MatchesLocation(id *uuid.UUID) bool {
	switch f.kind {
	case filterTele:
		return id == nil
	case filterLocation:
		return id != nil && *id == f.id
	}
	return true
}

func (f LocationFilter) IsAny() bool { return f.kind == filterAny }

func (f LocationFilter) String() string {
	switch f.kind {
	case filterTele:
		return "tele"
	case filterLocation:
		return f.id.String()
	}
	return "any"
}

// GenerateInput holds everything slot generation depends on, including the
// reference time. Nothing is read from the system clock.
type GenerateInput struct {
	Template *workinghours.Template
	// Date is the calendar day, in the time zone the template is expressed in.
	Date time.Time
	// DurationMinutes overrides the template; zero resolves through
	// Template.DurationFor(AppointmentType).
	DurationMinutes int
	AppointmentType string
	Appointments    []ExistingAppointment
	// ExcludedTimes holds "HH:MM" values to mark unavailable (live holds).
	ExcludedTimes      map[string]struct{}
	Location           LocationFilter
	Now                time.Time
	IncludeUnavailable bool
}

// GenerateSlots walks each matching block of the day in declared order and
// emits candidates whose full duration fits before the block closes.
// Candidates at or before Now are dropped. Lunch overlaps, appointment
// overlaps and excluded times are omitted unless IncludeUnavailable is set,
// in which case they are returned with Available=false and a Reason. Times
// repeated across blocks are kept, each tagged with its block index.
func GenerateSlots(in GenerateInput) []TimeSlot {
	if in.Template == nil {
		return nil
	}
	duration := in.DurationMinutes
	if duration <= 0 {
		duration = in.Template.DurationFor(in.AppointmentType)
	}
	if duration <= 0 {
		return nil
	}
	step := duration
	if in.Template.BufferMinutes > 0 {
		step += in.Template.BufferMinutes
	}
	length := time.Duration(duration) * time.Minute

	occupied := make([][2]time.Time, 0, len(in.Appointments))
	for _, a := range in.Appointments {
		if a.Status != "" && !Occupies(a.Status) {
			continue
		}
		start, end := a.Interval()
		occupied = append(occupied, [2]time.Time{start, end})
	}

	var out []TimeSlot
	for i, b := range in.Template.Blocks(workinghours.DayOf(in.Date)) {
		if !b.Active || !in.Location.Matches(b) || b.Start >= b.End {
			continue
		}
		for m := int(b.Start); m+duration <= int(b.End); m += step {
			clock := workinghours.Clock(m)
			start := clock.On(in.Date)
			if !start.After(in.Now) {
				continue
			}
			end := start.Add(length)

			reason := ""
			switch {
			case overlapsLunch(b, m, m+duration):
				reason = ReasonLunch
			case overlapsAny(occupied, start, end):
				reason = ReasonBooked
			case excluded(in.ExcludedTimes, clock.String()):
				reason = ReasonHeld
			}
			if reason != "" && !in.IncludeUnavailable {
				continue
			}

			out = append(out, TimeSlot{
				Time:       clock.String(),
				StartAt:    start,
				Available:  reason == "",
				LocationID: copyID(b.LocationID),
				Block:      i,
				Reason:     reason,
			})
		}
	}
	return out
}

// HasAvailable reports whether any slot in the list is bookable.
func HasAvailable(slots []TimeSlot) bool {
	for _, s := range slots {
		if s.Available {
			return true
		}
	}
	return false
}

func overlapsLunch(b workinghours.TimeBlock, start, end int) bool {
	if !b.HasLunch() {
		return false
	}
	return start < int(*b.LunchEnd) && end > int(*b.LunchStart)
}

func overlapsAny(intervals [][2]time.Time, start, end time.Time) bool {
	for _, iv := range intervals {
		if start.Before(iv[1]) && iv[0].Before(end) {
			return true
		}
	}
	return false
}

func excluded(set map[string]struct{}, hhmm string) bool {
	if set == nil {
		return false
	}
	_, ok := set[hhmm]
	return ok
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
