package reconciler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

func newTestView() *View {
	now := t0
	n := 0
	return NewView(
		WithClock(func() time.Time {
			now = now.Add(time.Second)
			return now
		}),
		WithRefGenerator(func() string {
			n++
			return fmt.Sprintf("ref-%d", n)
		}),
	)
}

func replyOutcome(user, assistant *domain.Message) Outcome {
	return Outcome{
		Result:           domain.PipelineResult{Kind: domain.ResultReply, Text: assistant.Text},
		UserMessage:      user,
		AssistantMessage: assistant,
	}
}

func typingCount(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Typing {
			n++
		}
	}
	return n
}

func TestViewShowsGreetingOnlyWhenEmpty(t *testing.T) {
	v := newTestView()

	got := v.Render()
	require.Len(t, got, 1)
	assert.True(t, got[0].Greeting)
	assert.Equal(t, Greeting, got[0].Text)

	v.Submit("hi")
	for _, e := range v.Render() {
		assert.False(t, e.Greeting)
	}
}

func TestViewSubmitShowsEchoAndTyping(t *testing.T) {
	v := newTestView()

	ref := v.Submit("I feel stuck")
	got := v.Render()

	require.Len(t, got, 2)
	assert.Equal(t, "I feel stuck", got[0].Text)
	assert.Equal(t, StatusPending, got[0].Status)
	assert.Equal(t, ref, got[0].ClientRef)
	assert.True(t, got[1].Typing)
	assert.Equal(t, TypingText, got[1].Text)
}

func TestViewResolveThenSubscriptionHasNoDuplicates(t *testing.T) {
	v := newTestView()
	ref := v.Submit("I feel stuck")

	user := stored("m1", domain.RoleUser, "I feel stuck", ref, t0.Add(2*time.Second))
	reply := stored("m2", domain.RoleAssistant, "Tell me more.", "", t0.Add(3*time.Second))

	v.Resolve(ref, replyOutcome(user, reply))
	assert.Equal(t, []string{"I feel stuck", "Tell me more."}, texts(v.Render()))

	v.Apply(domain.LogEvent{Added: []*domain.Message{user, reply}})
	got := v.Render()
	assert.Equal(t, []string{"I feel stuck", "Tell me more."}, texts(got))
	assert.Zero(t, typingCount(got))
	for _, e := range got {
		assert.False(t, e.Provisional)
	}
}

func TestViewSubscriptionBeforeResolveKeepsTypingUntilResolved(t *testing.T) {
	v := newTestView()
	ref := v.Submit("hello")

	user := stored("m1", domain.RoleUser, "hello", ref, t0.Add(2*time.Second))
	v.Apply(domain.LogEvent{Added: []*domain.Message{user}})

	got := v.Render()
	assert.Equal(t, []string{"hello", TypingText}, texts(got))
	assert.False(t, got[0].Provisional)
	assert.Equal(t, 1, typingCount(got))

	reply := stored("m2", domain.RoleAssistant, "Hi there.", "", t0.Add(3*time.Second))
	v.Resolve(ref, replyOutcome(user, reply))

	assert.Equal(t, []string{"hello", "Hi there."}, texts(v.Render()))
}

func TestViewOutOfOrderResolution(t *testing.T) {
	v := newTestView()
	first := v.Submit("one")
	second := v.Submit("two")

	v.Resolve(second, replyOutcome(
		stored("m3", domain.RoleUser, "two", second, t0.Add(5*time.Second)),
		stored("m4", domain.RoleAssistant, "reply two", "", t0.Add(6*time.Second)),
	))
	v.Resolve(first, replyOutcome(
		stored("m1", domain.RoleUser, "one", first, t0.Add(3*time.Second)),
		stored("m2", domain.RoleAssistant, "reply one", "", t0.Add(4*time.Second)),
	))

	got := v.Render()
	assert.Equal(t, []string{"one", "reply one", "two", "reply two"}, texts(got))
	assert.Zero(t, typingCount(got))
}

func TestViewFailureAndRetry(t *testing.T) {
	v := newTestView()
	ref := v.Submit("are you there?")

	v.Resolve(ref, Outcome{Err: errors.New("upstream: 502 bad gateway")})

	got := v.Render()
	require.Len(t, got, 1)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, FailureNotice, got[0].Notice)
	assert.NotContains(t, got[0].Notice, "502")

	text, ok := v.Retry(ref)
	require.True(t, ok)
	assert.Equal(t, "are you there?", text)

	got = v.Render()
	require.Len(t, got, 2)
	assert.Equal(t, StatusPending, got[0].Status)
	assert.Empty(t, got[0].Notice)
	assert.True(t, got[1].Typing)

	_, ok = v.Retry(ref)
	assert.False(t, ok, "only failed messages can be retried")
}

func TestViewFailedEchoSurvivesStoredTurnInFeed(t *testing.T) {
	v := newTestView()
	ref := v.Submit("are you there?")
	v.Resolve(ref, Outcome{Err: errors.New("write rejected")})

	// the user turn was stored before the reply failed
	user := stored("m1", domain.RoleUser, "are you there?", ref, t0.Add(2*time.Second))
	v.Apply(domain.LogEvent{Initial: true, Added: []*domain.Message{user}})

	got := v.Render()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Key)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.Equal(t, FailureNotice, got[0].Notice)

	text, ok := v.Retry(ref)
	require.True(t, ok)
	assert.Equal(t, "are you there?", text)
	assert.Equal(t, 1, typingCount(v.Render()))

	reply := stored("m2", domain.RoleAssistant, "I'm here.", ref, t0.Add(5*time.Second))
	v.Resolve(ref, replyOutcome(user, reply))

	got = v.Render()
	assert.Equal(t, []string{"are you there?", "I'm here."}, texts(got))
	assert.Empty(t, got[0].Notice)
	assert.Zero(t, typingCount(got))
}

func TestViewDismissDropsFailedEcho(t *testing.T) {
	v := newTestView()
	ref := v.Submit("lost")
	v.Resolve(ref, Outcome{Err: domain.ErrReplyUnavailable})

	v.Dismiss(ref)

	got := v.Render()
	require.Len(t, got, 1)
	assert.True(t, got[0].Greeting)
}

func TestViewCrisisShowsAdvisoryAndDropsEcho(t *testing.T) {
	v := newTestView()
	ref := v.Submit("I can't go on")

	v.Resolve(ref, Outcome{Result: domain.PipelineResult{Kind: domain.ResultCrisis, Advisory: "Please call 988."}})

	assert.Equal(t, "Please call 988.", v.Advisory())
	got := v.Render()
	require.Len(t, got, 1)
	assert.True(t, got[0].Greeting)

	v.Acknowledge()
	assert.Empty(t, v.Advisory())
}

func TestViewSuspendsOnSubscriptionError(t *testing.T) {
	v := newTestView()
	v.Apply(domain.LogEvent{Initial: true, Added: []*domain.Message{stored("m1", domain.RoleUser, "a", "", t0)}})

	v.Apply(domain.LogEvent{Err: errors.New("stream reset")})
	assert.True(t, v.Suspended())

	v.Apply(domain.LogEvent{Added: []*domain.Message{stored("m2", domain.RoleAssistant, "ignored", "", t0)}})
	assert.Equal(t, []string{"a"}, texts(v.Render()))

	v.Apply(domain.LogEvent{Initial: true, Added: []*domain.Message{
		stored("m1", domain.RoleUser, "a", "", t0),
		stored("m3", domain.RoleAssistant, "b", "", t0.Add(time.Second)),
	}})
	assert.False(t, v.Suspended())
	assert.Equal(t, []string{"a", "b"}, texts(v.Render()))
}

func TestViewClearedResetsTimeline(t *testing.T) {
	v := newTestView()
	v.Apply(domain.LogEvent{Initial: true, Added: []*domain.Message{stored("m1", domain.RoleUser, "a", "", t0)}})

	v.Apply(domain.LogEvent{Cleared: true})

	got := v.Render()
	require.Len(t, got, 1)
	assert.True(t, got[0].Greeting)
	assert.Empty(t, v.History())
}

func TestViewHistoryIsNonNilAndOrdered(t *testing.T) {
	v := newTestView()
	assert.NotNil(t, v.History())

	v.Apply(domain.LogEvent{Added: []*domain.Message{
		stored("m2", domain.RoleAssistant, "b", "", t0.Add(time.Second)),
		stored("m1", domain.RoleUser, "a", "", t0),
	}})

	h := v.History()
	require.Len(t, h, 2)
	assert.Equal(t, domain.MessageID("m1"), h[0].ID)
}
