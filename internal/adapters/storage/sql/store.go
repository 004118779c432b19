package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PabloGalante/aris-agent/internal/adapters/storage"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/ids"
)

// Store keeps sessions and message logs in a relational database through gorm.
// Subscriptions are served to subscribers in the same process.
type Store struct {
	db  *gorm.DB
	hub *storage.Hub
	now func() time.Time

	// mu orders appends against subscription snapshots.
	mu sync.Mutex
}

// Open connects with driver "sqlite" or "mysql" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{
		db:  db,
		hub: storage.NewHub(),
		now: time.Now,
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	row := toSessionRow(session)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sql CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND user_id = ?", string(session.ID), string(session.UserID)).
		Updates(map[string]any{
			"title":      session.Title,
			"updated_at": session.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("sql UpdateSession: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sc domain.SessionContext) (*domain.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", string(sc.SessionID), string(sc.UserID)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("sql GetSession: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", string(userID)).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql ListSessionsByUser: %w", err)
	}

	out := make([]*domain.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sc domain.SessionContext) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", string(sc.SessionID), string(sc.UserID)).
		Delete(&sessionRow{})
	if res.Error != nil {
		return fmt.Errorf("sql DeleteSession: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ─────────────────────────────────────────
// SessionLog implementation
// ─────────────────────────────────────────

func (s *Store) Append(ctx context.Context, sc domain.SessionContext, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row messageRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last messageRow
		err := tx.Where("user_id = ? AND session_id = ?", string(sc.UserID), string(sc.SessionID)).
			Order("created_at DESC, seq DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return err
		}

		at := s.now().UTC()
		if last.Seq != 0 && at.Before(last.CreatedAt) {
			at = last.CreatedAt.UTC()
		}

		kind := msg.Kind
		if kind == "" {
			kind = domain.KindText
		}

		row = messageRow{
			ID:        ids.New(at),
			UserID:    string(sc.UserID),
			SessionID: string(sc.SessionID),
			Role:      string(msg.Role),
			Kind:      string(kind),
			Text:      msg.Text,
			ClientRef: msg.ClientRef,
			CreatedAt: at,
		}
		if msg.Distortion != nil && msg.Distortion.HasDistortion {
			row.HasDistortion = true
			row.IdentifiedDistortion = msg.Distortion.IdentifiedDistortion
			row.SuggestedChallenge = msg.Distortion.SuggestedChallenge
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("sql Append: %w", err)
	}

	stored := row.toDomain()
	s.hub.Publish(sc, stored)
	return stored, nil
}

func (s *Store) List(ctx context.Context, sc domain.SessionContext, limit int) ([]*domain.Message, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", string(sc.UserID), string(sc.SessionID)).
		Order("created_at DESC, seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql List: %w", err)
	}

	// rows are newest first
	out := make([]*domain.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backlog, err := s.List(ctx, sc, 0)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, sc, backlog), nil
}

func (s *Store) DeleteLog(ctx context.Context, sc domain.SessionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", string(sc.UserID), string(sc.SessionID)).
		Delete(&messageRow{}).Error
	if err != nil {
		return fmt.Errorf("sql DeleteLog: %w", err)
	}
	s.hub.Clear(sc)
	return nil
}
