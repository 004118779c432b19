package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

const (
	fieldOp         = "op"
	fieldRole       = "role"
	fieldKind       = "kind"
	fieldText       = "text"
	fieldClientRef  = "client_ref"
	fieldDistortion = "distortion"
	fieldChallenge  = "challenge"

	opAppend = "append"
	opClear  = "clear"
)

// parseStreamID splits a stream entry ID ("<ms>-<seq>") into its time and sequence.
func parseStreamID(id string) (time.Time, int64, error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), seq, nil
}

func messageValues(msg *domain.Message) map[string]any {
	kind := msg.Kind
	if kind == "" {
		kind = domain.KindText
	}
	v := map[string]any{
		fieldOp:   opAppend,
		fieldRole: string(msg.Role),
		fieldKind: string(kind),
		fieldText: msg.Text,
	}
	if msg.ClientRef != "" {
		v[fieldClientRef] = msg.ClientRef
	}
	if msg.Distortion != nil && msg.Distortion.HasDistortion {
		v[fieldDistortion] = msg.Distortion.IdentifiedDistortion
		v[fieldChallenge] = msg.Distortion.SuggestedChallenge
	}
	return v
}

func str(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}

// decodeEntry converts a stream entry; msg is nil for control entries such as clear markers.
func decodeEntry(sc domain.SessionContext, x goredis.XMessage) (msg *domain.Message, op string, err error) {
	op = str(x.Values, fieldOp)
	if op == "" {
		op = opAppend
	}
	if op != opAppend {
		return nil, op, nil
	}

	at, seq, err := parseStreamID(x.ID)
	if err != nil {
		return nil, op, err
	}

	msg = &domain.Message{
		ID:        domain.MessageID(x.ID),
		SessionID: sc.SessionID,
		UserID:    sc.UserID,
		Role:      domain.Role(str(x.Values, fieldRole)),
		Kind:      domain.MessageKind(str(x.Values, fieldKind)),
		Text:      str(x.Values, fieldText),
		ClientRef: str(x.Values, fieldClientRef),
		CreatedAt: at,
		Seq:       seq,
	}
	if name := str(x.Values, fieldDistortion); name != "" {
		msg.Distortion = &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: name,
			SuggestedChallenge:   str(x.Values, fieldChallenge),
		}
	}
	return msg, op, nil
}

func decodeEntries(sc domain.SessionContext, xs []goredis.XMessage) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0, len(xs))
	for _, x := range xs {
		m, _, err := decodeEntry(sc, x)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func sessionValues(s *domain.Session) map[string]any {
	return map[string]any{
		"user_id":    string(s.UserID),
		"title":      s.Title,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeSession(id domain.SessionID, h map[string]string) (*domain.Session, error) {
	created, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, h["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &domain.Session{
		ID:        id,
		UserID:    domain.UserID(h["user_id"]),
		Title:     h["title"],
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
