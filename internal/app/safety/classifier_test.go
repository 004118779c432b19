package safety_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/aris-agent/internal/adapters/llm"
	"github.com/PabloGalante/aris-agent/internal/app/safety"
	"github.com/PabloGalante/aris-agent/internal/domain"
)

type failingLLM struct {
	*llm.MockLLM
}

func (failingLLM) AnalyzeCrisis(ctx context.Context, in domain.CrisisInput) (domain.CrisisOutput, error) {
	return domain.CrisisOutput{}, &domain.AdapterError{
		Capability: domain.CapabilityCrisis,
		Kind:       domain.AdapterTimeout,
		Err:        errors.New("deadline"),
	}
}

func TestClassifyCrisisAdvisoryHasResources(t *testing.T) {
	c := safety.NewClassifier(llm.NewMockLLM())

	v, err := c.Classify(context.Background(), "I want to kill myself")
	require.NoError(t, err)
	assert.True(t, v.IsCrisis)
	assert.Contains(t, v.Advisory, "988")
	assert.Contains(t, v.Advisory, "741741")
	assert.Contains(t, v.Advisory, "in-person")
}

func TestClassifyNonCrisis(t *testing.T) {
	c := safety.NewClassifier(llm.NewMockLLM())

	v, err := c.Classify(context.Background(), "Work has been stressful lately")
	require.NoError(t, err)
	assert.False(t, v.IsCrisis)
	assert.Empty(t, v.Advisory)
}

func TestClassifyFailureIsNotSilentlySafe(t *testing.T) {
	c := safety.NewClassifier(failingLLM{llm.NewMockLLM()})

	v, err := c.Classify(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSafetyCheckUnavailable)

	kind, ok := domain.AdapterErrorKindOf(err)
	assert.True(t, ok)
	assert.Equal(t, domain.AdapterTimeout, kind)
	assert.False(t, v.IsCrisis)
}

func TestClassifyRejectsEmptyText(t *testing.T) {
	c := safety.NewClassifier(llm.NewMockLLM())

	_, err := c.Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestNormalizeAdvisory(t *testing.T) {
	full := "Call 988 or text HOME to 741741, and please get in-person help."
	assert.Equal(t, full, safety.NormalizeAdvisory(full))

	got := safety.NormalizeAdvisory("")
	assert.Contains(t, got, "988")
	assert.Contains(t, got, "concerned")
}
