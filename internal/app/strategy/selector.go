package strategy

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// Selection is the reply strategy for one turn. It is either a first turn or a
// continuation carrying the history it continues.
type Selection struct {
	mode    domain.PersonaMode
	history []*domain.Message
}

func FirstTurn() Selection {
	return Selection{mode: domain.PersonaIntroductory}
}

func Continuation(history []*domain.Message) Selection {
	return Selection{mode: domain.PersonaContinuation, history: history}
}

func (s Selection) Mode() domain.PersonaMode {
	return s.mode
}

func (s Selection) IsFirstTurn() bool {
	return s.mode != domain.PersonaContinuation
}

// History is nil for a first turn.
func (s Selection) History() []*domain.Message {
	return s.history
}

// Select returns FirstTurn when there is at most one prior turn.
func Select(history []*domain.Message) Selection {
	if len(history) <= 1 {
		return FirstTurn()
	}
	return Continuation(history)
}

// Transcript serialises history as "role: text" lines in chronological order.
func Transcript(history []*domain.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, string(m.Role)+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// Outcome is a generated reply plus the optional distortion found in the user message.
type Outcome struct {
	Text       string
	Distortion *domain.DistortionAnnotation
}

type Selector struct {
	lang domain.LanguageService
}

func NewSelector(lang domain.LanguageService) *Selector {
	return &Selector{lang: lang}
}

// Reply generates the assistant reply for the given selection.
func (s *Selector) Reply(ctx context.Context, text string, sel Selection) (string, error) {
	in := domain.PersonaInput{
		Mode:        sel.Mode(),
		UserMessage: text,
	}
	if !sel.IsFirstTurn() {
		in.SessionHistory = Transcript(sel.History())
	}

	out, err := s.lang.PersonaReply(ctx, in)
	if err != nil {
		return "", err
	}
	return out.AIResponse, nil
}

// SelectReply runs reply generation and distortion analysis concurrently.
// A failed distortion analysis yields a nil Distortion; a failed reply fails the call.
func (s *Selector) SelectReply(ctx context.Context, text string, history []*domain.Message) (Outcome, error) {
	log := observability.LoggerFromContext(ctx)
	sel := Select(history)

	var (
		reply      string
		distortion *domain.DistortionAnnotation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.Reply(gctx, text, sel)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrReplyUnavailable, err)
		}
		reply = r
		return nil
	})
	g.Go(func() error {
		out, err := s.lang.AnalyzeDistortion(gctx, domain.DistortionInput{UserMessage: text})
		if err != nil {
			log.Warn("distortion analysis failed, continuing without it", "error", err)
			return nil
		}
		distortion = out.Annotation()
		return nil
	})

	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	log.Info("reply selected", "mode", sel.Mode(), "has_distortion", distortion != nil)

	return Outcome{Text: reply, Distortion: distortion}, nil
}
