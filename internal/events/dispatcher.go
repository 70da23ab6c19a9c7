package events

import (
	"context"
	"sync"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/GoPolymarket/credcalls/internal/pkg/metrics"
)

// Dispatcher queues events on a buffered channel and delivers them to every
// sink from a single goroutine, so sinks observe commit order. It keeps the
// most recent events in a ring for GET /v1/events/recent.
type Dispatcher struct {
	ch     chan model.Event
	sinks  []Sink
	recent *ring
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1000
	}
	d := &Dispatcher{
		ch:     make(chan model.Event, buffer),
		sinks:  sinks,
		recent: newRing(buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues ev without blocking. Events published after Close are dropped.
func (d *Dispatcher) Publish(_ context.Context, ev model.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventsDropped.WithLabelValues("dispatcher").Inc()
		logger.Warn("dispatcher closed, dropping event", "type", ev.Type, "call_id", ev.CallID)
		return
	}
	d.recent.Add(ev)
	select {
	case d.ch <- ev:
	default:
		metrics.EventsDropped.WithLabelValues("dispatcher").Inc()
		logger.Warn("event buffer full, dropping event", "type", ev.Type, "call_id", ev.CallID)
	}
}

// Recent returns up to limit events, newest first. callID 0 matches all calls.
func (d *Dispatcher) Recent(callID uint64, limit int) []model.Event {
	return d.recent.List(callID, limit)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ctx := context.Background()
	for ev := range d.ch {
		for _, s := range d.sinks {
			if err := s.Deliver(ctx, ev); err != nil {
				metrics.EventsDropped.WithLabelValues(s.Name()).Inc()
				logger.LogError(ctx, err, "event delivery failed", "sink", s.Name(), "type", ev.Type)
			}
		}
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	<-d.done
}

type ring struct {
	mu        sync.Mutex
	maxSize   int
	events    []model.Event
	nextIndex int
}

func newRing(maxSize int) *ring {
	return &ring{
		maxSize: maxSize,
		events:  make([]model.Event, 0, maxSize),
	}
}

func (r *ring) Add(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) < r.maxSize {
		r.events = append(r.events, ev)
		return
	}
	r.events[r.nextIndex] = ev
	r.nextIndex = (r.nextIndex + 1) % r.maxSize
}

func (r *ring) List(callID uint64, limit int) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > r.maxSize {
		limit = r.maxSize
	}
	out := make([]model.Event, 0, limit)
	total := len(r.events)
	for i := 0; i < total && len(out) < limit; i++ {
		ev := r.events[(r.nextIndex+total-1-i)%total]
		if callID != 0 && ev.CallID != callID {
			continue
		}
		out = append(out, ev)
	}
	return out
}
