package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func stored(id string, role domain.Role, text, ref string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        domain.MessageID(id),
		Role:      role,
		Kind:      domain.KindText,
		Text:      text,
		ClientRef: ref,
		CreatedAt: at,
	}
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

func TestMergeMatchesByClientRef(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleUser, "hello", "r1", t0)}
	prov := []Provisional{
		{ClientRef: "r1", Role: domain.RoleUser, Text: "hello", CreatedAt: t0.Add(-time.Hour)},
	}

	got := Merge(auth, prov, DefaultMatchWindow)

	assert.Equal(t, []string{"hello"}, texts(got))
	assert.False(t, got[0].Provisional)
}

func TestMergeFallsBackToContentWithinWindow(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleUser, "hello", "", t0)}

	near := []Provisional{{ClientRef: "r1", Role: domain.RoleUser, Text: "hello", CreatedAt: t0.Add(30 * time.Second)}}
	assert.Len(t, Merge(auth, near, DefaultMatchWindow), 1)

	far := []Provisional{{ClientRef: "r1", Role: domain.RoleUser, Text: "hello", CreatedAt: t0.Add(10 * time.Minute)}}
	assert.Len(t, Merge(auth, far, DefaultMatchWindow), 2)
}

func TestMergeRepeatedTextMatchesOncePerMessage(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleUser, "ok", "", t0)}
	prov := []Provisional{
		{ClientRef: "r1", Role: domain.RoleUser, Text: "ok", CreatedAt: t0},
		{ClientRef: "r2", Role: domain.RoleUser, Text: "ok", CreatedAt: t0.Add(time.Second)},
	}

	got := Merge(auth, prov, DefaultMatchWindow)

	assert.Len(t, got, 2)
	assert.Equal(t, "r2", got[1].ClientRef)
	assert.True(t, got[1].Provisional)
}

func TestMergeIgnoresMessagesOwnedByAnotherRef(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleUser, "ok", "r2", t0)}
	prov := []Provisional{{ClientRef: "r1", Role: domain.RoleUser, Text: "ok", CreatedAt: t0}}

	assert.Len(t, Merge(auth, prov, DefaultMatchWindow), 2)
}

func TestMergeNeverMatchesTyping(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleAssistant, TypingText, "", t0)}
	prov := []Provisional{{ClientRef: "r1", Role: domain.RoleAssistant, Text: TypingText, CreatedAt: t0, Typing: true}}

	got := Merge(auth, prov, DefaultMatchWindow)

	assert.Len(t, got, 2)
	assert.True(t, got[1].Typing)
	assert.Equal(t, "typing:r1", got[1].Key)
}

func TestMergeFailedEchoMarksStoredTurn(t *testing.T) {
	auth := []*domain.Message{stored("m1", domain.RoleUser, "hello", "r1", t0)}
	prov := []Provisional{
		{ClientRef: "r1", Role: domain.RoleUser, Text: "hello", CreatedAt: t0, Status: StatusFailed, Notice: FailureNotice},
	}

	got := Merge(auth, prov, DefaultMatchWindow)

	assert.Len(t, got, 1)
	assert.False(t, got[0].Provisional)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, FailureNotice, got[0].Notice)
	assert.Equal(t, "r1", got[0].ClientRef)
}

func TestMergeCarriesMessageKind(t *testing.T) {
	flag := stored("m1", domain.RoleUser, "withheld", "", t0)
	flag.Kind = domain.KindCrisisFlag
	prov := []Provisional{{ClientRef: "r2", Role: domain.RoleUser, Text: "next", CreatedAt: t0.Add(time.Minute)}}

	got := Merge([]*domain.Message{flag}, prov, DefaultMatchWindow)

	assert.Len(t, got, 2)
	assert.Equal(t, domain.KindCrisisFlag, got[0].Kind)
	assert.Equal(t, domain.KindText, got[1].Kind)
}
