package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryHoldStore keeps holds in process. Exclusivity holds within a single
// instance only; multi-instance deployments use the Postgres or Redis store.
type MemoryHoldStore struct {
	mu        sync.Mutex
	byKey     map[string]*Hold
	bySession map[string]string
}

func NewMemoryHoldStore() *MemoryHoldStore {
	return &MemoryHoldStore{
		byKey:     make(map[string]*Hold),
		bySession: make(map[string]string),
	}
}

func (s *MemoryHoldStore) Insert(_ context.Context, h *Hold, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.Key()
	if cur, ok := s.byKey[key]; ok {
		if cur.Live(now) {
			return ErrSlotUnavailable
		}
		delete(s.bySession, cur.SessionID)
	}
	stored := *h
	s.byKey[key] = &stored
	s.bySession[h.SessionID] = key
	return nil
}

func (s *MemoryHoldStore) GetBySession(_ context.Context, sessionID string, now time.Time) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.live(sessionID, now)
	if h == nil {
		return nil, ErrHoldNotFound
	}
	out := *h
	return &out, nil
}

func (s *MemoryHoldStore) Extend(_ context.Context, sessionID string, expiresAt, now time.Time) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.live(sessionID, now)
	if h == nil {
		return nil, ErrHoldNotFound
	}
	h.ExpiresAt = expiresAt
	out := *h
	return &out, nil
}

func (s *MemoryHoldStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.bySession[sessionID]; ok {
		delete(s.byKey, key)
		delete(s.bySession, sessionID)
	}
	return nil
}

func (s *MemoryHoldStore) ListActive(_ context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Hold
	for _, h := range s.byKey {
		if h.DoctorID != doctorID || !h.Live(now) {
			continue
		}
		if h.SlotAt.Before(from) || !h.SlotAt.Before(to) {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotAt.Before(out[j].SlotAt) })
	return out, nil
}

func (s *MemoryHoldStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, h := range s.byKey {
		if !h.Live(now) {
			delete(s.byKey, key)
			delete(s.bySession, h.SessionID)
			n++
		}
	}
	return n, nil
}

// live must be called with mu held.
func (s *MemoryHoldStore) live(sessionID string, now time.Time) *Hold {
	key, ok := s.bySession[sessionID]
	if !ok {
		return nil
	}
	h, ok := s.byKey[key]
	if !ok || h.SessionID != sessionID || !h.Live(now) {
		return nil
	}
	return h
}
