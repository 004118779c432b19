package safety

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// Resources is appended to every crisis advisory that does not already list them.
const Resources = `If you are in immediate danger, please contact emergency services or one of these lines now:
- Suicide & Crisis Lifeline: call or text 988
- Crisis Text Line: Text HOME to 741741
Please also reach out to a mental health professional for in-person help as soon as you can. You don't have to go through this alone.`

const defaultLead = "I'm really concerned about what you've shared, and your safety is the most important thing right now."

type Verdict struct {
	IsCrisis bool
	Advisory string
}

// Classifier decides whether a user message signals risk of harm.
// It never degrades to "not a crisis" when the check cannot be performed.
type Classifier struct {
	lang domain.LanguageService
}

func NewClassifier(lang domain.LanguageService) *Classifier {
	return &Classifier{lang: lang}
}

func (c *Classifier) Classify(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, domain.ErrEmptyMessage
	}

	out, err := c.lang.AnalyzeCrisis(ctx, domain.CrisisInput{UserMessage: text})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("crisis analysis failed", "error", err)
		return Verdict{}, fmt.Errorf("%w: %w", domain.ErrSafetyCheckUnavailable, err)
	}

	if !out.IsCrisis {
		return Verdict{}, nil
	}

	return Verdict{
		IsCrisis: true,
		Advisory: NormalizeAdvisory(out.Advisory),
	}, nil
}

// NormalizeAdvisory guarantees an advisory names immediate-help contacts and
// recommends in-person professional help.
func NormalizeAdvisory(advisory string) string {
	lead := strings.TrimSpace(advisory)
	if lead == "" {
		lead = defaultLead
	}
	if hasResources(lead) {
		return lead
	}
	return lead + "\n\n" + Resources
}

func hasResources(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "988") &&
		strings.Contains(l, "741741") &&
		strings.Contains(l, "in-person")
}
