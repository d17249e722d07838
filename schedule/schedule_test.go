package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueFiresAndForgets(t *testing.T) {
	q := NewQueue()
	defer q.Stop()

	done := make(chan struct{})
	if err := q.Schedule(time.Millisecond, "a", func() { close(done) }); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", q.Pending())
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("callback never fired")
	}

	// The id frees up once the callback has run.
	deadline := time.Now().Add(time.Second)
	for q.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pending never drained")
		}
		time.Sleep(time.Millisecond)
	}
	if err := q.Schedule(time.Hour, "a", func() {}); err != nil {
		t.Fatalf("reschedule after fire: %v", err)
	}
}

func TestQueueRejectsInFlightID(t *testing.T) {
	q := NewQueue()
	defer q.Stop()

	if err := q.Schedule(time.Hour, "a", func() {}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := q.Schedule(time.Hour, "a", func() {}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate id: err = %v, want ErrDuplicateID", err)
	}
	// A different id is fine.
	if err := q.Schedule(time.Hour, "b", func() {}); err != nil {
		t.Fatalf("schedule b: %v", err)
	}
}

func TestQueueStopCancelsPending(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	fired := false
	if err := q.Schedule(10*time.Millisecond, "a", func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	q.Stop()

	if q.Pending() != 0 {
		t.Fatalf("pending after stop = %d, want 0", q.Pending())
	}
	if err := q.Schedule(time.Millisecond, "b", func() {}); err == nil {
		t.Fatalf("schedule on stopped queue accepted")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatalf("cancelled callback fired")
	}
}

func TestManualFiresInSchedulingOrder(t *testing.T) {
	m := NewManual()

	var got []string
	for _, id := range []string{"c", "a", "b"} {
		id := id
		if err := m.Schedule(time.Hour, id, func() { got = append(got, id) }); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}
	if err := m.Schedule(time.Hour, "a", func() {}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate id: err = %v, want ErrDuplicateID", err)
	}
	if m.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", m.Pending())
	}

	m.Fire()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("fired = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired = %v, want %v", got, want)
		}
	}

	// Fire clears the set; ids are reusable and a second Fire is a no-op.
	if m.Pending() != 0 {
		t.Fatalf("pending after fire = %d, want 0", m.Pending())
	}
	m.Fire()
	if err := m.Schedule(time.Hour, "a", func() {}); err != nil {
		t.Fatalf("reschedule after fire: %v", err)
	}
}

func TestManualCallbackMayReschedule(t *testing.T) {
	m := NewManual()
	if err := m.Schedule(time.Hour, "a", func() {
		if err := m.Schedule(time.Hour, "a", func() {}); err != nil {
			t.Errorf("reschedule from callback: %v", err)
		}
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	m.Fire()
	if m.Pending() != 1 {
		t.Fatalf("pending = %d, want the rescheduled task", m.Pending())
	}
}
