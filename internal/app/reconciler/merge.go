package reconciler

import (
	"time"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

// Greeting is shown when a session has nothing to render. It is never persisted.
const Greeting = "Hello. I'm here to provide a safe, non-judgmental space for you to explore your thoughts and feelings. What's on your mind today?"

// TypingText is the placeholder shown while a reply is being produced.
const TypingText = "..."

// FailureNotice is shown on an echo whose send failed. Raw errors are never shown.
const FailureNotice = "Your message could not be sent. Please try again."

// DefaultMatchWindow bounds the timestamp distance of a content-based match.
const DefaultMatchWindow = 2 * time.Minute

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Provisional is a client-local entry: a user echo or a typing placeholder.
type Provisional struct {
	ClientRef string
	Role      domain.Role
	Text      string
	CreatedAt time.Time
	Typing    bool
	Status    Status
	// StoredID is known once the send succeeded.
	StoredID domain.MessageID
	Notice   string
}

// Entry is one rendered row of the conversation history view.
type Entry struct {
	Key         string
	Role        domain.Role
	Kind        domain.MessageKind
	Text        string
	CreatedAt   time.Time
	Provisional bool
	Typing      bool
	Greeting    bool
	Status      Status
	ClientRef   string
	Notice      string
	Distortion  *domain.DistortionAnnotation
}

// Merge renders authoritative messages (already in timeline order) followed by
// the provisional entries that no authoritative message accounts for. A failed
// echo whose turn was stored anyway marks that stored entry as failed instead.
func Merge(authoritative []*domain.Message, provisional []Provisional, window time.Duration) []Entry {
	match := matchProvisional(authoritative, provisional, window)

	out := make([]Entry, 0, len(authoritative)+len(provisional))
	for _, m := range authoritative {
		out = append(out, Entry{
			Key:        string(m.ID),
			Role:       m.Role,
			Kind:       m.Kind,
			Text:       m.Text,
			CreatedAt:  m.CreatedAt,
			ClientRef:  m.ClientRef,
			Distortion: m.Distortion,
		})
	}
	for i, p := range provisional {
		if j := match[i]; j >= 0 {
			if p.Status == StatusFailed {
				out[j].Status = StatusFailed
				out[j].Notice = p.Notice
				out[j].ClientRef = p.ClientRef
			}
			continue
		}
		key := "local:" + p.ClientRef
		if p.Typing {
			key = "typing:" + p.ClientRef
		}
		out = append(out, Entry{
			Key:         key,
			Role:        p.Role,
			Kind:        domain.KindText,
			Text:        p.Text,
			CreatedAt:   p.CreatedAt,
			Provisional: true,
			Typing:      p.Typing,
			Status:      p.Status,
			ClientRef:   p.ClientRef,
			Notice:      p.Notice,
		})
	}
	return out
}

// matchProvisional returns, per provisional entry, the index of the
// authoritative message that accounts for it, or -1. Identity (stored ID, then
// client ref) is tried first; role + text within window is the fallback. Each
// authoritative message matches at most one provisional entry. Typing
// placeholders never match.
func matchProvisional(authoritative []*domain.Message, provisional []Provisional, window time.Duration) []int {
	match := make([]int, len(provisional))
	for i := range match {
		match[i] = -1
	}
	claimed := make(map[int]bool, len(authoritative))

	byID := make(map[domain.MessageID]int, len(authoritative))
	byRef := make(map[string]int, len(authoritative))
	for i, m := range authoritative {
		byID[m.ID] = i
		if m.ClientRef != "" && m.Role == domain.RoleUser {
			byRef[m.ClientRef] = i
		}
	}

	for i, p := range provisional {
		if p.Typing {
			continue
		}
		if p.StoredID != "" {
			if j, ok := byID[p.StoredID]; ok && !claimed[j] {
				match[i], claimed[j] = j, true
				continue
			}
		}
		if j, ok := byRef[p.ClientRef]; ok && !claimed[j] {
			match[i], claimed[j] = j, true
		}
	}

	for i, p := range provisional {
		if p.Typing || match[i] >= 0 {
			continue
		}
		for j, m := range authoritative {
			if claimed[j] || m.Role != p.Role || m.Text != p.Text {
				continue
			}
			// a message that carries another entry's ref belongs to that entry
			if m.ClientRef != "" && m.ClientRef != p.ClientRef {
				continue
			}
			if absDuration(m.CreatedAt.Sub(p.CreatedAt)) <= window {
				match[i], claimed[j] = j, true
				break
			}
		}
	}
	return match
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
