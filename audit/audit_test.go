package audit

import (
	"sync"
	"testing"
	"time"
)

func collectInto(events *[]Event, mu *sync.Mutex) Handler {
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	}
}

func waitFor(t *testing.T, mu *sync.Mutex, events *[]Event, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := len(*events)
		mu.Unlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, got %d", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordDispatchesToHandlers(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	trail := New(16, WithHandler(collectInto(&events, &mu)))
	defer trail.Close()

	trail.Record(Event{
		Action:  ActionLogin,
		Outcome: "authenticated",
		Subject: "sub-1",
	})

	waitFor(t, &mu, &events, 1)

	mu.Lock()
	defer mu.Unlock()
	if events[0].Subject != "sub-1" {
		t.Errorf("subject = %q", events[0].Subject)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp must be filled in")
	}
}

func TestMultipleHandlers(t *testing.T) {
	var mu sync.Mutex
	var first, second []Event

	trail := New(16,
		WithHandler(collectInto(&first, &mu)),
		WithHandler(collectInto(&second, &mu)))
	defer trail.Close()

	trail.Record(Event{Action: ActionRequest, Outcome: "rejected"})

	waitFor(t, &mu, &first, 1)
	waitFor(t, &mu, &second, 1)
}

func TestCloseFlushesQueue(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	trail := New(64, WithHandler(collectInto(&events, &mu)))
	for i := 0; i < 10; i++ {
		trail.Record(Event{Action: ActionRequest, Outcome: "anonymous"})
	}
	if err := trail.Close(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 10 {
		t.Errorf("events = %d, want all 10 flushed on Close", len(events))
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	// No handler ever drains the queue: Record must drop, not block.
	trail := New(2)
	defer trail.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			trail.Record(Event{Action: ActionRequest})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
