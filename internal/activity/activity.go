// Package activity holds a bounded, in-memory record of operator-facing
// events (signals, orders, warnings) and fans them out to live channel
// subscribers, mirroring the event-bus role the teacher assigns to a
// dedicated events package without carrying over its portfolio-specific
// event catalog.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/domain"
)

// DefaultCapacity is the ring buffer size when none is specified.
const DefaultCapacity = 500

// Log is a thread-safe, fixed-capacity ring buffer of Activities with
// live subscriber fan-out.
type Log struct {
	mu          sync.RWMutex
	buf         []domain.Activity
	capacity    int
	next        int
	filled      bool
	log         zerolog.Logger
	subscribers map[int]chan domain.Activity
	subSeq      int
}

// New constructs a Log with the given capacity (DefaultCapacity if <= 0).
func New(capacity int, log zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:         make([]domain.Activity, capacity),
		capacity:    capacity,
		log:         log.With().Str("component", "activity").Logger(),
		subscribers: make(map[int]chan domain.Activity),
	}
}

// Record appends an Activity, overwriting the oldest entry once capacity is
// reached, and pushes it to any live subscribers.
func (l *Log) Record(a domain.Activity) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.buf[l.next] = a
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.filled = true
	}
	subs := make([]chan domain.Activity, 0, len(l.subscribers))
	for _, ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	l.logRecord(a)

	for _, ch := range subs {
		select {
		case ch <- a:
		default:
			l.log.Warn().Msg("activity subscriber channel full, dropping event")
		}
	}
}

func (l *Log) logRecord(a domain.Activity) {
	evt := l.log.Info()
	switch a.Level {
	case domain.LevelWarning:
		evt = l.log.Warn()
	case domain.LevelError:
		evt = l.log.Error()
	}
	evt.Str("kind", string(a.Kind)).Str("symbol", a.Symbol).Msg(a.Message)
}

// Recent returns up to limit Activities, newest first. If kind is non-empty,
// only Activities of that kind are returned. limit <= 0 means no cap.
func (l *Log) Recent(kind domain.ActivityKind, limit int) []domain.Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := l.orderedLocked()
	var out []domain.Activity
	for i := len(ordered) - 1; i >= 0; i-- {
		a := ordered[i]
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// orderedLocked returns buffered Activities in insertion order. Caller must
// hold at least a read lock.
func (l *Log) orderedLocked() []domain.Activity {
	if !l.filled {
		out := make([]domain.Activity, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]domain.Activity, l.capacity)
	copy(out, l.buf[l.next:])
	copy(out[l.capacity-l.next:], l.buf[:l.next])
	return out
}

// Clear empties the log. Live subscribers are unaffected; only history is
// discarded.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = make([]domain.Activity, l.capacity)
	l.next = 0
	l.filled = false
}

// Subscribe registers a new live listener and returns a channel of future
// Activities plus an unsubscribe function. The channel is buffered; slow
// readers lose events rather than blocking Record.
func (l *Log) Subscribe() (<-chan domain.Activity, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.subSeq
	l.subSeq++
	ch := make(chan domain.Activity, 64)
	l.subscribers[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existing, ok := l.subscribers[id]; ok {
			delete(l.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}
