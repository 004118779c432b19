package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

// MockLLM is a deterministic, keyword-driven LanguageService for local runs and tests.
type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

var crisisPhrases = []string{
	"kill myself",
	"suicide",
	"suicidal",
	"end my life",
	"want to die",
	"hurt myself",
	"hurt someone",
	"kill someone",
}

type distortionRule struct {
	name      string
	keywords  []string
	challenge string
}

// Checked in order; the first match wins.
var distortionRules = []distortionRule{
	{
		name:      "Catastrophizing",
		keywords:  []string{"worst", "disaster", "ruined", "catastrophe", "can't survive"},
		challenge: "What is the most likely outcome, rather than the worst one?",
	},
	{
		name:      "Overgeneralization",
		keywords:  []string{"always", "never", "everything", "nothing", "nobody", "everyone"},
		challenge: "Can you think of a time when this did not happen?",
	},
	{
		name:      "Black-and-white thinking",
		keywords:  []string{"total failure", "completely", "perfect", "useless"},
		challenge: "Is there a middle ground between these two extremes?",
	},
	{
		name:      "Personalization",
		keywords:  []string{"my fault", "because of me", "i ruined"},
		challenge: "What other factors might have contributed to this?",
	},
	{
		name:      "Should statements",
		keywords:  []string{"should", "must", "ought to"},
		challenge: "What would change if you replaced 'should' with 'would like to'?",
	},
}

func (m *MockLLM) PersonaReply(ctx context.Context, in domain.PersonaInput) (domain.PersonaOutput, error) {
	if err := in.Validate(); err != nil {
		return domain.PersonaOutput{}, &domain.AdapterError{Capability: domain.CapabilityPersonaReply, Kind: domain.AdapterUpstream, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return domain.PersonaOutput{}, classifyError(ctx, domain.CapabilityPersonaReply, err)
	}

	if in.Mode == domain.PersonaIntroductory {
		return domain.PersonaOutput{
			AIResponse: fmt.Sprintf("Thank you for sharing that with me. It sounds like %q has been weighing on you. How does that feel in your body right now?", in.UserMessage),
		}, nil
	}
	return domain.PersonaOutput{
		AIResponse: fmt.Sprintf("I hear you, and what you are feeling makes sense given what you've told me. You said %q. What evidence supports that thought?", in.UserMessage),
	}, nil
}

func (m *MockLLM) AnalyzeDistortion(ctx context.Context, in domain.DistortionInput) (domain.DistortionOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.DistortionOutput{}, classifyError(ctx, domain.CapabilityDistortion, err)
	}

	text := strings.ToLower(in.UserMessage)
	for _, r := range distortionRules {
		for _, kw := range r.keywords {
			if containsWord(text, kw) {
				return domain.DistortionOutput{
					HasDistortion:        true,
					IdentifiedDistortion: r.name,
					SuggestedChallenge:   r.challenge,
				}, nil
			}
		}
	}
	return domain.DistortionOutput{}, nil
}

func (m *MockLLM) AnalyzeCrisis(ctx context.Context, in domain.CrisisInput) (domain.CrisisOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.CrisisOutput{}, classifyError(ctx, domain.CapabilityCrisis, err)
	}

	text := strings.ToLower(in.UserMessage)
	for _, p := range crisisPhrases {
		if strings.Contains(text, p) {
			return domain.CrisisOutput{
				IsCrisis: true,
				Advisory: "It sounds like you are going through something very painful, and your safety matters. Please reach out for support right now.",
			}, nil
		}
	}
	return domain.CrisisOutput{}, nil
}

// containsWord matches kw on word boundaries so "nevertheless" does not count as "never".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		if (start == 0 || !isLetter(text[start-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '\''
}
