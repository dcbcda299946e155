// Package notify holds the transient, time-boxed status message surfaced to
// the user. At most one notification is visible; a new one replaces the old
// rather than queuing, since stale status is misleading.
package notify

import (
	"sync"
	"time"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// DefaultTTL is the display window after which a notification expires on its
// own.
const DefaultTTL = 3 * time.Second

type Notification struct {
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

type Queue struct {
	ttl time.Duration

	mu      sync.Mutex
	current *Notification
	timer   *time.Timer
	seq     uint64
}

func NewQueue(ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{ttl: ttl}
}

// Emit replaces any visible notification and schedules its own expiry.
func (q *Queue) Emit(message string, severity Severity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.seq++
	seq := q.seq
	q.current = &Notification{
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}
	q.timer = time.AfterFunc(q.ttl, func() {
		q.expire(seq)
	})
}

func (q *Queue) Success(message string) { q.Emit(message, SeveritySuccess) }
func (q *Queue) Error(message string)   { q.Emit(message, SeverityError) }

// Current returns a copy of the visible notification, or nil.
func (q *Queue) Current() *Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	n := *q.current
	return &n
}

// Clear removes the visible notification. Idempotent.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.current = nil
}

// expire only clears the notification it was scheduled for; a timer firing
// after a newer Emit must not blank the newer message.
func (q *Queue) expire(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seq != seq {
		return
	}
	q.current = nil
	q.timer = nil
}
