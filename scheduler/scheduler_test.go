package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJob(t *testing.T) {
	var runs atomic.Int64
	s, err := New(10*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected an error when starting twice")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("job ran %d times", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler still running after stop")
	}
	stats := s.GetStats()
	if stats.ExecutionCount < 3 || stats.FailureCount != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	boom := errors.New("boom")
	s, err := New(time.Hour, 0, func(ctx context.Context) error { return boom }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.ExecuteNow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	stats := s.GetStats()
	if stats.FailureCount != 1 || stats.LastError != "boom" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(0, 0, func(context.Context) error { return nil }, nil); err == nil {
		t.Error("expected an error for a zero interval")
	}
	if _, err := New(time.Second, 0, nil, nil); err == nil {
		t.Error("expected an error for a nil job")
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, _ := New(time.Second, 0, func(context.Context) error { return nil }, nil)
	if err := s.Stop(); err == nil {
		t.Error("expected an error")
	}
}
