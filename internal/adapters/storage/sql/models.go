package sql

import (
	"time"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

type sessionRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)"`
	UserID    string    `gorm:"type:varchar(128);index;not null"`
	Title     string    `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string { return "aris_sessions" }

type messageRow struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"type:varchar(26);uniqueIndex;not null"`
	UserID    string    `gorm:"type:varchar(128);not null;index:idx_aris_msg_session,priority:1"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_aris_msg_session,priority:2"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Kind      string    `gorm:"type:varchar(16);not null"`
	Text      string    `gorm:"type:text;not null"`
	ClientRef string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time `gorm:"not null;index"`

	HasDistortion        bool
	IdentifiedDistortion string `gorm:"type:varchar(64)"`
	SuggestedChallenge   string `gorm:"type:text"`
}

func (messageRow) TableName() string { return "aris_messages" }

func toSessionRow(s *domain.Session) sessionRow {
	return sessionRow{
		ID:        string(s.ID),
		UserID:    string(s.UserID),
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:        domain.SessionID(r.ID),
		UserID:    domain.UserID(r.UserID),
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r messageRow) toDomain() *domain.Message {
	m := &domain.Message{
		ID:        domain.MessageID(r.ID),
		SessionID: domain.SessionID(r.SessionID),
		UserID:    domain.UserID(r.UserID),
		Role:      domain.Role(r.Role),
		Kind:      domain.MessageKind(r.Kind),
		Text:      r.Text,
		ClientRef: r.ClientRef,
		CreatedAt: r.CreatedAt.UTC(),
		Seq:       r.Seq,
	}
	if r.HasDistortion {
		m.Distortion = &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: r.IdentifiedDistortion,
			SuggestedChallenge:   r.SuggestedChallenge,
		}
	}
	return m
}
