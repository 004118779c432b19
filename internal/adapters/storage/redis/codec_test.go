package redis

import (
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

var sc = domain.SessionContext{UserID: "u1", SessionID: "s1"}

func TestParseStreamID(t *testing.T) {
	at, seq, err := parseStreamID("1714560000123-4")
	require.NoError(t, err)
	assert.Equal(t, int64(1714560000123), at.UnixMilli())
	assert.Equal(t, int64(4), seq)

	_, _, err = parseStreamID("garbage")
	assert.Error(t, err)
	_, _, err = parseStreamID("12-x")
	assert.Error(t, err)
}

func TestDecodeEntryRoundTripsMessageFields(t *testing.T) {
	msg := &domain.Message{
		Role:      domain.RoleUser,
		Text:      "Nobody ever listens",
		ClientRef: "c-9",
		Distortion: &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: "Overgeneralization",
			SuggestedChallenge:   "Who has listened recently?",
		},
	}

	got, op, err := decodeEntry(sc, goredis.XMessage{ID: "1714560000000-0", Values: messageValues(msg)})
	require.NoError(t, err)
	assert.Equal(t, opAppend, op)
	assert.Equal(t, domain.MessageID("1714560000000-0"), got.ID)
	assert.Equal(t, domain.KindText, got.Kind)
	assert.Equal(t, "c-9", got.ClientRef)
	require.NotNil(t, got.Distortion)
	assert.Equal(t, "Overgeneralization", got.Distortion.IdentifiedDistortion)
	assert.Equal(t, sc.SessionID, got.SessionID)
}

func TestDecodeEntriesSkipsClearMarkers(t *testing.T) {
	xs := []goredis.XMessage{
		{ID: "1-0", Values: map[string]any{fieldOp: opClear}},
		{ID: "2-0", Values: messageValues(&domain.Message{Role: domain.RoleAssistant, Text: "hello"})},
		{ID: "2-1", Values: messageValues(&domain.Message{Role: domain.RoleUser, Text: "hi"})},
	}

	msgs, err := decodeEntries(sc, xs)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Before(msgs[1]))
}

func TestSessionCodec(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	in := &domain.Session{ID: "s1", UserID: "u1", Title: "New Chat", CreatedAt: now, UpdatedAt: now}

	h := map[string]string{}
	for k, v := range sessionValues(in) {
		h[k] = v.(string)
	}

	out, err := decodeSession("s1", h)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
