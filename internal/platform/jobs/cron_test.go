package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_Add_InvalidSpec(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	if err := s.Add("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for an invalid spec")
	}
	if s.Entries() != 0 {
		t.Errorf("expected no entries, got %d", s.Entries())
	}
	if err := s.Add("reap", "*/5 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Entries() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Entries())
	}
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if runs.Load() == 0 {
		t.Error("expected the job to run at least once")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), WithJobTimeout(time.Second))

	var sawDeadline bool
	s.RunNow("once", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return errors.New("failed")
	})
	if !sawDeadline {
		t.Error("expected job context to carry the timeout")
	}

	// Panics are recovered and logged.
	s.RunNow("boom", func(context.Context) error { panic("boom") })
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cancelled bool
	s.RunNow("after", func(ctx context.Context) error {
		cancelled = ctx.Err() != nil
		return nil
	})
	if !cancelled {
		t.Error("expected job context cancelled after Stop")
	}
}
