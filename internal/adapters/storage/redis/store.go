package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store keeps each session log in a Redis Stream. Redis assigns the entry ID,
// which gives every message a server-side timestamp and a per-stream sequence.
type Store struct {
	rdb   *goredis.Client
	block time.Duration
}

// NewStore connects and pings Redis.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(rdb), nil
}

func NewFromClient(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb, block: time.Second}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// ─────────────────────────────────────────
// Keys
// ─────────────────────────────────────────

func streamKey(sc domain.SessionContext) string {
	return fmt.Sprintf("aris:log:%s:%s", sc.UserID, sc.SessionID)
}

func sessionKey(id domain.SessionID) string {
	return "aris:session:" + string(id)
}

func userSessionsKey(userID domain.UserID) string {
	return "aris:user:" + string(userID) + ":sessions"
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	created, err := s.rdb.HSetNX(ctx, sessionKey(session.ID), "user_id", string(session.UserID)).Result()
	if err != nil {
		return fmt.Errorf("redis CreateSession: %w", err)
	}
	if !created {
		return fmt.Errorf("redis CreateSession: session %s already exists", session.ID)
	}
	return s.writeSession(ctx, session)
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	if _, err := s.GetSession(ctx, domain.SessionContext{UserID: session.UserID, SessionID: session.ID}); err != nil {
		return err
	}
	return s.writeSession(ctx, session)
}

func (s *Store) writeSession(ctx context.Context, session *domain.Session) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID), sessionValues(session))
		pipe.ZAdd(ctx, userSessionsKey(session.UserID), goredis.Z{
			Score:  float64(session.UpdatedAt.UnixMilli()),
			Member: string(session.ID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis writeSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sc domain.SessionContext) (*domain.Session, error) {
	h, err := s.rdb.HGetAll(ctx, sessionKey(sc.SessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis GetSession: %w", err)
	}
	if len(h) == 0 || h["user_id"] != string(sc.UserID) {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(sc.SessionID, h)
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.ZRevRange(ctx, userSessionsKey(userID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ListSessionsByUser: %w", err)
	}

	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, domain.SessionContext{UserID: userID, SessionID: domain.SessionID(id)})
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sc domain.SessionContext) error {
	if _, err := s.GetSession(ctx, sc); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sc.SessionID))
		pipe.ZRem(ctx, userSessionsKey(sc.UserID), string(sc.SessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis DeleteSession: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// SessionLog implementation
// ─────────────────────────────────────────

func (s *Store) Append(ctx context.Context, sc domain.SessionContext, msg *domain.Message) (*domain.Message, error) {
	id, err := s.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(sc),
		ID:     "*",
		Values: messageValues(msg),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis Append: %w", err)
	}

	stored, _, err := decodeEntry(sc, goredis.XMessage{ID: id, Values: messageValues(msg)})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) List(ctx context.Context, sc domain.SessionContext, limit int) ([]*domain.Message, error) {
	xs, err := s.rdb.XRange(ctx, streamKey(sc), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis List: %w", err)
	}
	msgs, err := decodeEntries(sc, xs)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Subscribe reads the backlog with XRANGE and then follows the stream with blocking XREAD.
func (s *Store) Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error) {
	key := streamKey(sc)

	xs, err := s.rdb.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis Subscribe: %w", err)
	}
	backlog, err := decodeEntries(sc, xs)
	if err != nil {
		return nil, err
	}

	lastID := "0-0"
	if len(xs) > 0 {
		lastID = xs[len(xs)-1].ID
	}

	out := make(chan domain.LogEvent, 16)
	out <- domain.LogEvent{Initial: true, Added: backlog}

	go s.readLoop(ctx, sc, key, lastID, out)

	return out, nil
}

func (s *Store) readLoop(ctx context.Context, sc domain.SessionContext, key, lastID string, out chan<- domain.LogEvent) {
	defer close(out)
	log := observability.LoggerFromContext(ctx).With("stream", key)

	send := func(ev domain.LogEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := s.rdb.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   100,
			Block:   s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("redis stream read failed", "error", err)
			send(domain.LogEvent{Err: fmt.Errorf("redis subscription: %w", err)})
			return
		}

		for _, stream := range res {
			var added []*domain.Message
			for _, x := range stream.Messages {
				lastID = x.ID
				m, op, err := decodeEntry(sc, x)
				if err != nil {
					log.Warn("skipping undecodable stream entry", "id", x.ID, "error", err)
					continue
				}
				if op == opClear {
					if len(added) > 0 && !send(domain.LogEvent{Added: added}) {
						return
					}
					added = nil
					if !send(domain.LogEvent{Cleared: true}) {
						return
					}
					continue
				}
				if m != nil {
					added = append(added, m)
				}
			}
			if len(added) > 0 && !send(domain.LogEvent{Added: added}) {
				return
			}
		}
	}
}

// DeleteLog trims the stream and leaves a clear marker so live subscribers can react.
// The marker expires once the owning session is gone.
func (s *Store) DeleteLog(ctx context.Context, sc domain.SessionContext) error {
	key := streamKey(sc)

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XTrimMaxLen(ctx, key, 0)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: key,
			ID:     "*",
			Values: map[string]any{fieldOp: opClear},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis DeleteLog: %w", err)
	}

	exists, err := s.rdb.Exists(ctx, sessionKey(sc.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis DeleteLog: %w", err)
	}
	if exists == 0 {
		if err := s.rdb.Expire(ctx, key, time.Minute).Err(); err != nil {
			return fmt.Errorf("redis DeleteLog: %w", err)
		}
	}
	return nil
}
