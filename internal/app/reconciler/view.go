package reconciler

import (
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

// Outcome is what the caller learned from one send.
type Outcome struct {
	Result           domain.PipelineResult
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	Err              error
}

// View holds the authoritative and provisional buffers of one session.
// It is not safe for concurrent use; Client drives it from a single goroutine.
type View struct {
	authoritative []*domain.Message
	byID          map[domain.MessageID]bool
	provisional   []Provisional

	advisory  string
	suspended bool

	window time.Duration
	now    func() time.Time
	newRef func() string
}

type ViewOption func(*View)

func WithClock(now func() time.Time) ViewOption {
	return func(v *View) { v.now = now }
}

func WithMatchWindow(d time.Duration) ViewOption {
	return func(v *View) { v.window = d }
}

func WithRefGenerator(f func() string) ViewOption {
	return func(v *View) { v.newRef = f }
}

func NewView(opts ...ViewOption) *View {
	v := &View{
		byID:   make(map[domain.MessageID]bool),
		window: DefaultMatchWindow,
		now:    time.Now,
		newRef: uuid.NewString,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Submit adds a pending user echo and a typing placeholder, returning their client ref.
func (v *View) Submit(text string) string {
	ref := v.newRef()
	now := v.now()
	v.provisional = append(v.provisional,
		Provisional{ClientRef: ref, Role: domain.RoleUser, Text: text, CreatedAt: now, Status: StatusPending},
		Provisional{ClientRef: ref, Role: domain.RoleAssistant, Text: TypingText, CreatedAt: now, Typing: true, Status: StatusPending},
	)
	return ref
}

// Resolve applies the outcome of the send identified by ref. The typing
// placeholder is removed on every path.
func (v *View) Resolve(ref string, out Outcome) {
	v.removeTyping(ref)

	i := v.echoIndex(ref)

	switch {
	case out.Err != nil:
		if i >= 0 {
			v.provisional[i].Status = StatusFailed
			v.provisional[i].Notice = FailureNotice
		}
	case out.Result.IsCrisis():
		if i >= 0 {
			v.provisional = append(v.provisional[:i], v.provisional[i+1:]...)
		}
		v.advisory = out.Result.Advisory
		// a recorded crisis turn still belongs to the timeline
		v.insert(out.UserMessage)
	default:
		if i >= 0 {
			v.provisional[i].Status = StatusConfirmed
			v.provisional[i].Notice = ""
			if out.UserMessage != nil {
				v.provisional[i].StoredID = out.UserMessage.ID
			}
		}
		v.insert(out.UserMessage, out.AssistantMessage)
	}
	v.prune()
}

// Retry turns a failed echo back into a pending one and returns its text.
func (v *View) Retry(ref string) (string, bool) {
	i := v.echoIndex(ref)
	if i < 0 || v.provisional[i].Status != StatusFailed {
		return "", false
	}
	v.provisional[i].Status = StatusPending
	v.provisional[i].Notice = ""
	v.provisional = append(v.provisional, Provisional{
		ClientRef: ref,
		Role:      domain.RoleAssistant,
		Text:      TypingText,
		CreatedAt: v.now(),
		Typing:    true,
		Status:    StatusPending,
	})
	return v.provisional[i].Text, true
}

// Dismiss drops a failed echo the user gave up on.
func (v *View) Dismiss(ref string) {
	if i := v.echoIndex(ref); i >= 0 && v.provisional[i].Status == StatusFailed {
		v.provisional = append(v.provisional[:i], v.provisional[i+1:]...)
	}
}

// Apply merges one subscription event.
func (v *View) Apply(ev domain.LogEvent) {
	if ev.Err != nil {
		v.suspended = true
		return
	}
	if ev.Initial {
		v.authoritative = nil
		v.byID = make(map[domain.MessageID]bool)
		v.suspended = false
	}
	if v.suspended {
		return
	}
	if ev.Cleared {
		v.authoritative = nil
		v.byID = make(map[domain.MessageID]bool)
	}
	v.insert(ev.Added...)
	v.prune()
}

// Suspend stops merging until the next initial event or Resume.
func (v *View) Suspend() {
	v.suspended = true
}

func (v *View) Resume() {
	v.suspended = false
}

func (v *View) Suspended() bool {
	return v.suspended
}

// Advisory is the crisis advisory awaiting acknowledgement, if any.
func (v *View) Advisory() string {
	return v.advisory
}

func (v *View) Acknowledge() {
	v.advisory = ""
}

// History returns the authoritative timeline, used as pipeline history.
func (v *View) History() []*domain.Message {
	out := make([]*domain.Message, 0, len(v.authoritative))
	for _, m := range v.authoritative {
		out = append(out, m.Clone())
	}
	return out
}

// Render returns the conversation history view.
func (v *View) Render() []Entry {
	if len(v.authoritative) == 0 && len(v.provisional) == 0 {
		return []Entry{{Key: "greeting", Role: domain.RoleAssistant, Text: Greeting, Greeting: true}}
	}
	return Merge(v.authoritative, v.provisional, v.window)
}

func (v *View) insert(msgs ...*domain.Message) {
	changed := false
	for _, m := range msgs {
		if m == nil || v.byID[m.ID] {
			continue
		}
		v.byID[m.ID] = true
		v.authoritative = append(v.authoritative, m.Clone())
		changed = true
	}
	if changed {
		domain.SortMessages(v.authoritative)
	}
}

// prune drops provisional entries that an authoritative message supersedes.
// Failed echoes stay until retried or dismissed.
func (v *View) prune() {
	match := matchProvisional(v.authoritative, v.provisional, v.window)
	kept := v.provisional[:0]
	for i, p := range v.provisional {
		if match[i] < 0 || p.Status == StatusFailed {
			kept = append(kept, p)
		}
	}
	v.provisional = kept
}

func (v *View) removeTyping(ref string) {
	kept := v.provisional[:0]
	for _, p := range v.provisional {
		if p.Typing && p.ClientRef == ref {
			continue
		}
		kept = append(kept, p)
	}
	v.provisional = kept
}

func (v *View) echoIndex(ref string) int {
	for i, p := range v.provisional {
		if !p.Typing && p.ClientRef == ref {
			return i
		}
	}
	return -1
}
