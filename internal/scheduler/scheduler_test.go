package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 3, 1, 10, 17, 0, 0, time.UTC)

	next := s.nextTick(now)
	if want := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next tick %s, want %s", next, want)
	}
	if got := s.slotStart(next.Add(3 * time.Second)); !got.Equal(next) {
		t.Fatalf("slot start %s, want %s", got, next)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 90 * time.Minute}, zerolog.Nop())
	now := time.Date(2025, 3, 1, 10, 17, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(90 * time.Minute)) {
		t.Fatalf("unexpected next tick %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestCronRejectsBadSpec(t *testing.T) {
	c := NewCron(nil, zerolog.Nop())
	err := c.Add(context.Background(), Job{Name: "ratings", Spec: "not a spec", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if len(c.Jobs()) != 0 {
		t.Fatalf("bad job registered: %v", c.Jobs())
	}
}

func TestCronIgnoresEmptySpecAndRegisters(t *testing.T) {
	c := NewCron(time.UTC, zerolog.Nop())
	noop := func(context.Context) error { return nil }
	if err := c.Add(context.Background(), Job{Name: "issuers", Run: noop}); err != nil {
		t.Fatalf("empty spec: %v", err)
	}
	if err := c.Add(context.Background(), Job{Name: "coupons", Spec: "30 3 * * 1-5", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := c.Jobs(); len(got) != 1 || got[0] != "coupons" {
		t.Fatalf("unexpected jobs %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	fired := 0
	err := s.Run(ctx, func(context.Context, time.Time) error {
		fired++
		cancel()
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected one startup tick, got %d", fired)
	}
}
