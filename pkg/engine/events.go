package engine

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// EventStream is an Observer turning samples into live Events. Sends never
// block a VU: events are dropped when the consumer falls behind.
type EventStream struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	active  atomic.Int32
	dropped atomic.Int64
}

func NewEventStream(buffer int) *EventStream {
	return &EventStream{ch: make(chan Event, buffer)}
}

// Events is closed by Close.
func (s *EventStream) Events() <-chan Event {
	return s.ch
}

// Dropped is the number of events discarded because the buffer was full.
func (s *EventStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *EventStream) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *EventStream) ObserveSample(sm Sample) {
	ev := Event{
		Timestamp:   sm.Time,
		Name:        sm.Name,
		Endpoint:    sm.Tags[TagEndpoint],
		Method:      sm.Method,
		Path:        pathOf(sm.URL),
		Status:      sm.Status,
		LatencyMs:   ms(sm.Duration),
		Concurrency: int(s.active.Load()),
		VU:          sm.VU,
		Iteration:   sm.Iter,
	}
	if sm.Err != nil {
		ev.Err = sm.Err.Error()
	}
	s.emit(ev)
}

func (s *EventStream) ObserveCheck(Check) {}

func (s *EventStream) ObserveVUs(active int) {
	s.active.Store(int32(active))
	s.emit(Event{
		Timestamp:   time.Now(),
		Name:        "RAMP_PROGRESS",
		Method:      "SYSTEM",
		Path:        fmt.Sprintf("%d VUs active", active),
		Concurrency: active,
	})
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.RequestURI()
}
