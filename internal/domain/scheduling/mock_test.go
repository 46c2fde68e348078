package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/domain/workinghours"
)

// fakeClock is safe for concurrent use.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mockAppointments enforces one occupying appointment per (doctor, start)
// the way the partial unique index does.
type mockAppointments struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*Appointment
	creates  int
	listErrs []error
	listN    int
}

func newMockAppointments() *mockAppointments {
	return &mockAppointments{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointments) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	for _, cur := range m.items {
		if cur.DoctorID == a.DoctorID && cur.StartAt.Equal(a.StartAt) && Occupies(cur.Status) {
			return ErrDuplicate
		}
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointments) UpdateStatus(_ context.Context, id uuid.UUID, status string, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if reason != nil {
		a.CancelReason = reason
	}
	return nil
}

func (m *mockAppointments) Occupied(_ context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.DoctorID != doctorID || !Occupies(a.Status) {
			continue
		}
		e := ExistingAppointment{StartAt: a.StartAt, DurationMinutes: a.DurationMinutes, Status: a.Status}
		if e.Covers(at) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAppointments) ListOccupying(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]ExistingAppointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listN++
	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []ExistingAppointment
	for _, a := range m.items {
		if a.DoctorID != doctorID || !Occupies(a.Status) || a.StartAt.Before(from) || !a.StartAt.Before(to) {
			continue
		}
		out = append(out, ExistingAppointment{StartAt: a.StartAt, DurationMinutes: a.DurationMinutes, Status: a.Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *mockAppointments) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.DoctorID == doctorID && !a.StartAt.Before(from) && a.StartAt.Before(to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *mockAppointments) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.items {
		if a.PatientID == patientID {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartAt.Before(all[j].StartAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockAppointments) put(a *Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	m.items[a.ID] = a
}

type mockWaitlist struct {
	mu    sync.Mutex
	items []*WaitlistEntry
	seq   time.Time
}

func newMockWaitlist() *mockWaitlist {
	return &mockWaitlist{seq: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockWaitlist) Create(_ context.Context, e *WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.items {
		if cur.Status == WaitlistActive && cur.PatientID == e.PatientID && cur.DoctorID == e.DoctorID && cur.PreferredDate.Equal(e.PreferredDate) {
			return ErrDuplicate
		}
	}
	m.seq = m.seq.Add(time.Second)
	e.CreatedAt = m.seq
	cp := *e
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockWaitlist) GetByID(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockWaitlist) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		if e.ID == id {
			e.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockWaitlist) CountAhead(_ context.Context, e *WaitlistEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, cur := range m.items {
		if cur.Status == WaitlistActive && cur.DoctorID == e.DoctorID && cur.PreferredDate.Equal(e.PreferredDate) && cur.CreatedAt.Before(e.CreatedAt) {
			n++
		}
	}
	return n, nil
}

func (m *mockWaitlist) ListActive(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WaitlistEntry
	for _, e := range m.items {
		if e.Status == WaitlistActive && e.DoctorID == doctorID && e.PreferredDate.Equal(date) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// mockTemplates counts lookups and can fail the first calls.
type mockTemplates struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*workinghours.Template
	errs      []error
	calls     int
}

func newMockTemplates(tpls ...*workinghours.Template) *mockTemplates {
	m := &mockTemplates{templates: make(map[uuid.UUID]*workinghours.Template)}
	for _, t := range tpls {
		m.templates[t.DoctorID] = t
	}
	return m
}

func (m *mockTemplates) Get(_ context.Context, doctorID uuid.UUID) (*workinghours.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	t, ok := m.templates[doctorID]
	if !ok {
		return nil, workinghours.ErrNotFound
	}
	return t, nil
}

func (m *mockTemplates) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
