package notify

import (
	"testing"
	"time"
)

func TestEmitReplacesVisible(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Emit("first", SeveritySuccess)
	q.Emit("second", SeverityError)

	n := q.Current()
	if n == nil {
		t.Fatal("expected a visible notification")
	}
	if n.Message != "second" || n.Severity != SeverityError {
		t.Fatalf("expected the newer notification, got %+v", n)
	}
}

func TestExpiry(t *testing.T) {
	q := NewQueue(20 * time.Millisecond)
	q.Emit("short lived", SeveritySuccess)
	if q.Current() == nil {
		t.Fatal("expected notification before expiry")
	}
	time.Sleep(60 * time.Millisecond)
	if n := q.Current(); n != nil {
		t.Fatalf("expected notification to expire, still visible: %+v", n)
	}
}

func TestStaleTimerDoesNotClearNewer(t *testing.T) {
	q := NewQueue(20 * time.Millisecond)
	q.Emit("first", SeveritySuccess)
	time.Sleep(10 * time.Millisecond)
	q.Emit("second", SeveritySuccess)
	time.Sleep(15 * time.Millisecond)
	// The first timer's window has passed; the second notification's has not.
	n := q.Current()
	if n == nil || n.Message != "second" {
		t.Fatalf("expected second notification to survive, got %+v", n)
	}
}

func TestClearIdempotent(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Clear()
	q.Emit("hello", SeveritySuccess)
	q.Clear()
	q.Clear()
	if q.Current() != nil {
		t.Fatal("expected no notification after clear")
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	q := NewQueue(time.Minute)
	q.Emit("original", SeveritySuccess)
	n := q.Current()
	n.Message = "mutated"
	if got := q.Current(); got.Message != "original" {
		t.Fatalf("caller mutation leaked into the queue: %q", got.Message)
	}
}
