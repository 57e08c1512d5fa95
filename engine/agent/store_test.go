package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/fundscout/fundscout/engine/domain"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	now := time.Now()
	s.Put(&Task{ID: "t1", Goal: "g", Status: StatusPending, CreatedAt: now, UpdatedAt: now})

	got, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "t1" || got.Status != StatusPending {
		t.Fatalf("got = %+v", got)
	}

	if _, err := s.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	s.Put(&Task{ID: "t1", Status: StatusRunning, Results: []SubResult{{Question: "q"}}})
	got, _ := s.Get("t1")
	got.Results[0].Question = "mutated"

	again, _ := s.Get("t1")
	if again.Results[0].Question != "q" {
		t.Fatal("snapshot leaked internal state")
	}
}

func TestStoreSweepExpiredTerminal(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	base := time.Now()
	s.now = func() time.Time { return base }

	s.Put(&Task{ID: "done", Status: StatusCompleted, UpdatedAt: base})
	s.Put(&Task{ID: "live", Status: StatusRunning, UpdatedAt: base})

	// Move past the TTL: the terminal task expires, the running one stays.
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	s.sweep()

	if _, err := s.Get("done"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected done to be swept, got %v", err)
	}
	if _, err := s.Get("live"); err != nil {
		t.Fatalf("running task must survive sweep: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestStoreExpiredHiddenBeforeSweep(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.Put(&Task{ID: "done", Status: StatusFailed, UpdatedAt: base})

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.Get("done"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired task must be invisible, got %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore(time.Minute)
	defer s.Close()

	s.Put(&Task{ID: "t1", Status: StatusPending})
	err := s.Update("t1", func(task *Task) error {
		return task.transition(StatusRunning, time.Now())
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get("t1")
	if got.Status != StatusRunning {
		t.Fatalf("status = %s", got.Status)
	}

	// Illegal transition surfaces the error.
	err = s.Update("t1", func(task *Task) error {
		return task.transition(StatusPending, time.Now())
	})
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
}
