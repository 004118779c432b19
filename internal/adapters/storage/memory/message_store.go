package memory

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/aris-agent/internal/adapters/storage"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/ids"
)

type sessionLog struct {
	messages []*domain.Message
	lastAt   time.Time
	seq      int64
}

// MessageStore is an in-process SessionLog. Timestamps never go backwards
// within a session even if the clock does.
type MessageStore struct {
	mu   sync.RWMutex
	logs map[domain.SessionContext]*sessionLog
	hub  *storage.Hub
	now  func() time.Time
}

func NewMessageStore() *MessageStore {
	return NewMessageStoreWithClock(time.Now)
}

func NewMessageStoreWithClock(now func() time.Time) *MessageStore {
	return &MessageStore{
		logs: make(map[domain.SessionContext]*sessionLog),
		hub:  storage.NewHub(),
		now:  now,
	}
}

func (s *MessageStore) Append(ctx context.Context, sc domain.SessionContext, msg *domain.Message) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[sc]
	if !ok {
		l = &sessionLog{}
		s.logs[sc] = l
	}

	at := s.now().UTC()
	if at.Before(l.lastAt) {
		at = l.lastAt
	}
	l.lastAt = at
	l.seq++

	stored := msg.Clone()
	stored.ID = domain.MessageID(ids.New(at))
	stored.SessionID = sc.SessionID
	stored.UserID = sc.UserID
	stored.CreatedAt = at
	stored.Seq = l.seq
	stored.Provisional = false
	if stored.Kind == "" {
		stored.Kind = domain.KindText
	}

	l.messages = append(l.messages, stored)
	s.hub.Publish(sc, stored)

	return stored.Clone(), nil
}

func (s *MessageStore) List(ctx context.Context, sc domain.SessionContext, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot(sc, limit), nil
}

func (s *MessageStore) Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hub.Subscribe(ctx, sc, s.snapshot(sc, 0)), nil
}

func (s *MessageStore) DeleteLog(ctx context.Context, sc domain.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logs, sc)
	s.hub.Clear(sc)
	return nil
}

// snapshot must be called with s.mu held.
func (s *MessageStore) snapshot(sc domain.SessionContext, limit int) []*domain.Message {
	l, ok := s.logs[sc]
	if !ok {
		return nil
	}
	msgs := l.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}
