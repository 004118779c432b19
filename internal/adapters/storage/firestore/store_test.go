package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

func TestMessageDocConversion(t *testing.T) {
	sc := domain.SessionContext{UserID: "u1", SessionID: "s1"}
	msg := &domain.Message{
		Role: domain.RoleUser,
		Text: "I should be over this by now",
		Distortion: &domain.DistortionAnnotation{
			HasDistortion:        true,
			IdentifiedDistortion: "Should statements",
			SuggestedChallenge:   "Says who?",
		},
	}

	doc := toMessageDoc(msg)
	assert.Equal(t, string(domain.KindText), doc.Kind)
	assert.True(t, doc.CreatedAt.IsZero(), "created_at is left for the server timestamp")
	require.NotNil(t, doc.Distortion)

	doc.CreatedAt = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	got := fromMessageDoc(sc, "01ABC", doc)
	assert.Equal(t, domain.MessageID("01ABC"), got.ID)
	assert.Equal(t, sc.UserID, got.UserID)
	require.NotNil(t, got.Distortion)
	assert.Equal(t, "Should statements", got.Distortion.IdentifiedDistortion)
}

func TestMessageDocWithoutDistortion(t *testing.T) {
	doc := toMessageDoc(&domain.Message{Role: domain.RoleAssistant, Text: "hello", Distortion: &domain.DistortionAnnotation{}})
	assert.Nil(t, doc.Distortion)

	got := fromMessageDoc(domain.SessionContext{UserID: "u", SessionID: "s"}, "id", doc)
	assert.Nil(t, got.Distortion)
}
