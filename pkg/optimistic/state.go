// Package optimistic applies local state transitions before the authoritative
// answer arrives and reconciles them once it does.
//
// A State keeps the last confirmed value plus an ordered log of pending
// actions. Current replays the log over the confirmed value, so rolling an
// action back is dropping it from the log and nothing is ever undone in
// place. Reducers must not mutate their input.
package optimistic

import "sync"

// Reducer returns the state that results from applying a to s.
type Reducer[S, A any] func(s S, a A) S

// Token identifies one applied action.
type Token uint64

type entry[A any] struct {
	token     Token
	action    A
	confirmed bool
}

// State is safe for concurrent use.
type State[S, A any] struct {
	mu      sync.Mutex
	reduce  Reducer[S, A]
	base    S
	log     []entry[A]
	current S
	next    Token
}

func New[S, A any](initial S, reduce Reducer[S, A]) *State[S, A] {
	return &State[S, A]{reduce: reduce, base: initial, current: initial}
}

// Apply records a and returns a token to confirm or roll it back with.
func (s *State[S, A]) Apply(a A) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.log = append(s.log, entry[A]{token: s.next, action: a})
	s.current = s.reduce(s.current, a)
	return s.next
}

// Current is the confirmed value with every pending action applied.
func (s *State[S, A]) Current() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Confirmed is the value without pending actions.
func (s *State[S, A]) Confirmed() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Pending reports how many actions await confirmation.
func (s *State[S, A]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.log {
		if !e.confirmed {
			n++
		}
	}
	return n
}

// Confirm keeps the action. Confirmed actions at the head of the log are
// folded into the confirmed value. Unknown tokens return false.
func (s *State[S, A]) Confirm(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(t)
	if i < 0 {
		return false
	}
	s.log[i].confirmed = true
	for len(s.log) > 0 && s.log[0].confirmed {
		s.base = s.reduce(s.base, s.log[0].action)
		s.log = s.log[1:]
	}
	return true
}

// Rollback drops the action and recomputes Current without it.
func (s *State[S, A]) Rollback(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(t)
	if i < 0 {
		return false
	}
	s.log = append(s.log[:i], s.log[i+1:]...)
	s.replay()
	return true
}

// Reset replaces the confirmed value with an authoritative one and drops
// the whole log; the authoritative value already reflects the outcome of
// in-flight actions.
func (s *State[S, A]) Reset(authoritative S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = authoritative
	s.log = nil
	s.current = authoritative
}

func (s *State[S, A]) find(t Token) int {
	for i, e := range s.log {
		if e.token == t {
			return i
		}
	}
	return -1
}

func (s *State[S, A]) replay() {
	cur := s.base
	for _, e := range s.log {
		cur = s.reduce(cur, e.action)
	}
	s.current = cur
}
