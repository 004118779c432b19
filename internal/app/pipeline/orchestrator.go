package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/aris-agent/internal/app/safety"
	"github.com/PabloGalante/aris-agent/internal/app/strategy"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// Stage names the steps a message goes through; they appear in logs.
type Stage string

const (
	StageStart    Stage = "start"
	StageCrisis   Stage = "crisis"
	StageClassify Stage = "classify"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// Orchestrator runs the safety check and, only when it passes, reply selection.
type Orchestrator struct {
	classifier *safety.Classifier
	selector   *strategy.Selector
	metrics    *observability.Metrics
}

func NewOrchestrator(classifier *safety.Classifier, selector *strategy.Selector, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		selector:   selector,
		metrics:    metrics,
	}
}

// NewDefaultOrchestrator wires the classifier and selector on top of one language service.
func NewDefaultOrchestrator(lang domain.LanguageService, metrics *observability.Metrics) *Orchestrator {
	return NewOrchestrator(safety.NewClassifier(lang), strategy.NewSelector(lang), metrics)
}

// Handle processes one user message against the prior history of its session.
// Nothing is persisted here.
func (o *Orchestrator) Handle(
	ctx context.Context,
	sc domain.SessionContext,
	text string,
	history []*domain.Message,
) (domain.PipelineResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.PipelineResult{}, domain.ErrEmptyMessage
	}

	ctx = observability.WithSession(ctx, sc)
	log := observability.LoggerFromContext(ctx)
	start := time.Now()
	log.Info("pipeline stage", "stage", StageStart, "history_len", len(history))

	verdict, err := o.classifier.Classify(ctx, text)
	if err != nil {
		log.Error("pipeline stage", "stage", StageFailed, "error", err)
		o.metrics.PipelineResult("safety_unavailable")
		return domain.PipelineResult{}, err
	}

	if verdict.IsCrisis {
		log.Warn("pipeline stage", "stage", StageCrisis, "elapsed_ms", time.Since(start).Milliseconds())
		o.metrics.PipelineResult(string(domain.ResultCrisis))
		return domain.PipelineResult{
			Kind:     domain.ResultCrisis,
			Advisory: verdict.Advisory,
		}, nil
	}

	log.Info("pipeline stage", "stage", StageClassify)

	out, err := o.selector.SelectReply(ctx, text, history)
	if err != nil {
		log.Error("pipeline stage", "stage", StageFailed, "error", err)
		o.metrics.PipelineResult("reply_unavailable")
		return domain.PipelineResult{}, fmt.Errorf("handling message: %w", err)
	}

	log.Info("pipeline stage", "stage", StageDone, "elapsed_ms", time.Since(start).Milliseconds())
	o.metrics.PipelineResult(string(domain.ResultReply))

	return domain.PipelineResult{
		Kind:       domain.ResultReply,
		Text:       out.Text,
		Distortion: out.Distortion,
	}, nil
}
