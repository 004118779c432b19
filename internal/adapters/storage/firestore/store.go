package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/ids"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (ARIS_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

// Layout: users/{uid}/sessions/{sid}/messages/{mid}

func (s *Store) sessionsCol(userID domain.UserID) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(string(userID)).Collection("sessions")
}

func (s *Store) sessionDoc(sc domain.SessionContext) *firestore.DocumentRef {
	return s.sessionsCol(sc.UserID).Doc(string(sc.SessionID))
}

func (s *Store) messagesCol(sc domain.SessionContext) *firestore.CollectionRef {
	return s.sessionDoc(sc).Collection("messages")
}

func (s *Store) timelineQuery(sc domain.SessionContext) firestore.Query {
	return s.messagesCol(sc).
		OrderBy("created_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	Title     string    `firestore:"title"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type distortionDoc struct {
	IdentifiedDistortion string `firestore:"identified_distortion"`
	SuggestedChallenge   string `firestore:"suggested_challenge"`
}

type messageDoc struct {
	Role       string         `firestore:"role"`
	Kind       string         `firestore:"kind"`
	Text       string         `firestore:"text"`
	ClientRef  string         `firestore:"client_ref,omitempty"`
	Distortion *distortionDoc `firestore:"distortion,omitempty"`
	CreatedAt  time.Time      `firestore:"created_at,serverTimestamp"`
}

func toMessageDoc(msg *domain.Message) messageDoc {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindText
	}
	doc := messageDoc{
		Role:      string(msg.Role),
		Kind:      string(kind),
		Text:      msg.Text,
		ClientRef: msg.ClientRef,
	}
	if msg.Distortion != nil && msg.Distortion.HasDistortion {
		doc.Distortion = &distortionDoc{
			IdentifiedDistortion: msg.Distortion.IdentifiedDistortion,
			SuggestedChallenge:   msg.Distortion.SuggestedChallenge,
		}
	}
	return doc
}

func fromMessageDoc(sc domain.SessionContext, id string, doc messageDoc) *domain.Message {
	m := &domain.Message{
		ID:        domain.MessageID(id),
		SessionID: sc.SessionID,
		UserID:    sc.UserID,
		Role:      domain.Role(doc.Role),
		Kind:      domain.MessageKind(doc.Kind),
		Text:      doc.Text,
		ClientRef: doc.ClientRef,
		CreatedAt: doc.CreatedAt.UTC(),
	}
	if doc.Distortion != nil {
		m.Distortion = &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: doc.Distortion.IdentifiedDistortion,
			SuggestedChallenge:   doc.Distortion.SuggestedChallenge,
		}
	}
	return m
}

func decodeMessage(sc domain.SessionContext, snap *firestore.DocumentSnapshot) (*domain.Message, error) {
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode messageDoc: %w", err)
	}
	return fromMessageDoc(sc, snap.Ref.ID, doc), nil
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	doc := sessionDoc{
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}

	sc := domain.SessionContext{UserID: session.UserID, SessionID: session.ID}
	if _, err := s.sessionDoc(sc).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	sc := domain.SessionContext{UserID: session.UserID, SessionID: session.ID}
	_, err := s.sessionDoc(sc).Update(ctx, []firestore.Update{
		{Path: "title", Value: session.Title},
		{Path: "updated_at", Value: session.UpdatedAt},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("firestore UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sc domain.SessionContext) (*domain.Session, error) {
	snap, err := s.sessionDoc(sc).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}

	return &domain.Session{
		ID:        sc.SessionID,
		UserID:    sc.UserID,
		Title:     doc.Title,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol(userID).OrderBy("updated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListSessionsByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}

		out = append(out, &domain.Session{
			ID:        domain.SessionID(snap.Ref.ID),
			UserID:    userID,
			Title:     doc.Title,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sc domain.SessionContext) error {
	if _, err := s.sessionDoc(sc).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// SessionLog implementation
// ─────────────────────────────────────────

// Append writes the message with a server timestamp; the commit time is the
// message's CreatedAt.
func (s *Store) Append(ctx context.Context, sc domain.SessionContext, msg *domain.Message) (*domain.Message, error) {
	id := ids.New(time.Now())
	doc := toMessageDoc(msg)

	wr, err := s.messagesCol(sc).Doc(id).Create(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("firestore Append: %w", err)
	}

	doc.CreatedAt = wr.UpdateTime
	return fromMessageDoc(sc, id, doc), nil
}

func (s *Store) List(ctx context.Context, sc domain.SessionContext, limit int) ([]*domain.Message, error) {
	q := s.messagesCol(sc).
		OrderBy("created_at", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore List: %w", err)
		}

		m, err := decodeMessage(sc, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	// newest first -> timeline order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Subscribe follows the timeline query with realtime snapshots.
func (s *Store) Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error) {
	out := make(chan domain.LogEvent, 16)
	it := s.timelineQuery(sc).Snapshots(ctx)

	go func() {
		defer close(out)
		defer it.Stop()

		log := observability.LoggerFromContext(ctx).With("session_id", sc.SessionID)
		first := true

		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				log.Error("firestore snapshot listener failed", "error", err)
				select {
				case out <- domain.LogEvent{Err: fmt.Errorf("firestore subscription: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			ev := domain.LogEvent{Initial: first}
			first = false

			removed := false
			for _, ch := range qs.Changes {
				switch ch.Kind {
				case firestore.DocumentAdded:
					m, err := decodeMessage(sc, ch.Doc)
					if err != nil {
						log.Warn("skipping undecodable message", "id", ch.Doc.Ref.ID, "error", err)
						continue
					}
					ev.Added = append(ev.Added, m)
				case firestore.DocumentRemoved:
					removed = true
				}
			}
			if removed && qs.Size == 0 {
				ev.Cleared = true
			}
			if !ev.Initial && !ev.Cleared && len(ev.Added) == 0 {
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// DeleteLog removes every message of the session with a bulk writer.
func (s *Store) DeleteLog(ctx context.Context, sc domain.SessionContext) error {
	iter := s.messagesCol(sc).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			bw.End()
			return fmt.Errorf("firestore DeleteLog: %w", err)
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return fmt.Errorf("firestore DeleteLog: %w", err)
		}
	}
	bw.End()
	return nil
}
