package domain

import (
	"sort"
	"strings"
)

// Message is one entry of a session timeline (user or assistant).
type Message struct {
	ID        MessageID
	SessionID SessionID
	UserID    UserID
	Role      Role
	Kind      MessageKind
	Text      string

	// CreatedAt and Seq are assigned by the store at write time.
	CreatedAt Timestamp
	Seq       int64

	// ClientRef is the provisional entry this message confirms, if any.
	ClientRef string

	// Provisional is only ever true for client-local entries.
	Provisional bool

	// Distortion is attached to user turns at write time and never changed afterwards.
	Distortion *DistortionAnnotation
}

// Before reports whether m sorts before o in a session timeline:
// creation time, then store sequence, then ID.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	if m.Seq != o.Seq {
		return m.Seq < o.Seq
	}
	return m.ID < o.ID
}

// SortMessages orders msgs in place by timeline order.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

// Clone returns a copy that does not share the distortion pointer.
func (m *Message) Clone() *Message {
	c := *m
	if m.Distortion != nil {
		d := *m.Distortion
		c.Distortion = &d
	}
	return &c
}

// DistortionAnnotation is the advisory result of the cognitive distortion check.
type DistortionAnnotation struct {
	HasDistortion        bool   `json:"hasDistortion"`
	IdentifiedDistortion string `json:"identifiedDistortion,omitempty"`
	SuggestedChallenge   string `json:"suggestedChallenge,omitempty"`
}

// Session is a single conversation thread owned by one user.
type Session struct {
	ID        SessionID
	UserID    UserID
	Title     string
	CreatedAt Timestamp
	UpdatedAt Timestamp
}

const maxTitleRunes = 80

// TitleFromMessage derives a session title from the first user message.
func TitleFromMessage(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	r := []rune(t)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes-1]) + "…"
	}
	return t
}
