package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

func TestSortMessagesUsesSeqAndIDAsTieBreakers(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	msgs := []*domain.Message{
		{ID: "c", CreatedAt: ts, Seq: 2},
		{ID: "b", CreatedAt: ts, Seq: 1},
		{ID: "a", CreatedAt: ts.Add(time.Second), Seq: 0},
		{ID: "z", CreatedAt: ts, Seq: 1},
	}

	domain.SortMessages(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, string(m.ID))
	}
	assert.Equal(t, []string{"b", "z", "c", "a"}, ids)
}

func TestTitleFromMessage(t *testing.T) {
	assert.Equal(t, "I feel tired", domain.TitleFromMessage("  I feel\n tired "))

	long := strings.Repeat("a", 200)
	title := domain.TitleFromMessage(long)
	assert.Equal(t, 80, len([]rune(title)))
	assert.True(t, strings.HasSuffix(title, "…"))
}

func TestDistortionOutputAnnotation(t *testing.T) {
	assert.Nil(t, domain.DistortionOutput{HasDistortion: false, IdentifiedDistortion: "x"}.Annotation())

	ann := domain.DistortionOutput{HasDistortion: true, IdentifiedDistortion: "Overgeneralization"}.Annotation()
	if assert.NotNil(t, ann) {
		assert.Equal(t, "Overgeneralization", ann.IdentifiedDistortion)
	}

	assert.Error(t, domain.DistortionOutput{HasDistortion: true}.Validate())
}

func TestPersonaInputValidate(t *testing.T) {
	assert.ErrorIs(t, domain.PersonaInput{Mode: domain.PersonaIntroductory}.Validate(), domain.ErrInvalidInput)
	assert.ErrorIs(t, domain.PersonaInput{Mode: "other", UserMessage: "hi"}.Validate(), domain.ErrInvalidInput)
	assert.NoError(t, domain.PersonaInput{Mode: domain.PersonaContinuation, UserMessage: "hi"}.Validate())
}
