package storage

import (
	"context"
	"sync"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

// Hub fans out log events to in-process subscribers of a session.
// Publishing never blocks on slow readers: each subscriber owns a queue
// drained by its own goroutine.
type Hub struct {
	mu   sync.Mutex
	subs map[domain.SessionContext]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[domain.SessionContext]map[*subscriber]struct{})}
}

type subscriber struct {
	out    chan domain.LogEvent
	notify chan struct{}

	mu      sync.Mutex
	pending []domain.LogEvent
	closed  bool
}

// Subscribe registers a subscriber whose first event carries initial.
// Callers that need a gap-free feed must snapshot initial and call Subscribe
// under the same lock they hold while publishing.
func (h *Hub) Subscribe(ctx context.Context, sc domain.SessionContext, initial []*domain.Message) <-chan domain.LogEvent {
	s := &subscriber{
		out:    make(chan domain.LogEvent),
		notify: make(chan struct{}, 1),
	}
	s.enqueue(domain.LogEvent{Initial: true, Added: initial})

	h.mu.Lock()
	set, ok := h.subs[sc]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sc] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		s.run(ctx)
		h.remove(sc, s)
	}()

	return s.out
}

// Publish delivers msgs to every subscriber of sc.
func (h *Hub) Publish(sc domain.SessionContext, msgs ...*domain.Message) {
	if len(msgs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[sc] {
		added := make([]*domain.Message, 0, len(msgs))
		for _, m := range msgs {
			added = append(added, m.Clone())
		}
		s.enqueue(domain.LogEvent{Added: added})
	}
}

// Clear tells subscribers of sc that the log was emptied.
func (h *Hub) Clear(sc domain.SessionContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[sc] {
		s.enqueue(domain.LogEvent{Cleared: true})
	}
}

// Fail reports err to every subscriber of sc and ends their feeds.
func (h *Hub) Fail(sc domain.SessionContext, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[sc] {
		s.enqueue(domain.LogEvent{Err: err})
		s.finish()
	}
	delete(h.subs, sc)
}

// Subscribers returns the number of live subscribers of sc.
func (h *Hub) Subscribers(sc domain.SessionContext) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sc])
}

func (h *Hub) remove(sc domain.SessionContext, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sc]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, sc)
	}
}

func (s *subscriber) enqueue(ev domain.LogEvent) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()
	s.wake()
}

// finish stops accepting events; already queued ones are still delivered.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if closed {
			s.mu.Lock()
			empty := len(s.pending) == 0
			s.mu.Unlock()
			if empty {
				return
			}
			continue
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}
