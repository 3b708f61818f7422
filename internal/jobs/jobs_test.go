package jobs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNext(t *testing.T) {
	from := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := Next("@every 10m", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := from.Add(10 * time.Minute); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	got, err = Next("  30   2 * * * ", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := time.Date(2025, 1, 2, 2, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := New(quietLogger())
	err := s.Add(Job{Name: "bad", Schedule: "every tuesday", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected parse error")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestAddEmptyScheduleDisables(t *testing.T) {
	s := New(quietLogger())
	if err := s.Add(Job{Name: "off", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRunExecutesJobsUntilCancelled(t *testing.T) {
	s := New(quietLogger())
	var ok, failing atomic.Int32
	_ = s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		ok.Add(1)
		return nil
	}})
	_ = s.Add(Job{Name: "fail", Schedule: "@every 1s", Run: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for ok.Load() == 0 || failing.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("jobs did not run")
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
