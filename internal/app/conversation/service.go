package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/aris-agent/internal/app/pipeline"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/ids"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// Options controls what the service persists around a pipeline run.
type Options struct {
	// RecordCrisisTurns keeps a crisis-flagged user turn (no reply) instead of discarding it.
	RecordCrisisTurns bool
	// PersistDistortion attaches the distortion annotation to the stored user turn.
	PersistDistortion bool
	// HistoryWindow is how many prior turns are loaded when the caller sends none.
	HistoryWindow int
	// SpeechTimeout bounds the background speech request.
	SpeechTimeout time.Duration
	// Metrics may be nil.
	Metrics *observability.Metrics
}

func DefaultOptions() Options {
	return Options{
		PersistDistortion: true,
		HistoryWindow:     20,
		SpeechTimeout:     30 * time.Second,
	}
}

type Service struct {
	pipeline *pipeline.Orchestrator
	sessions domain.SessionStore
	log      domain.SessionLog
	speech   domain.SpeechSynthesizer
	opts     Options
	now      func() time.Time

	bg sync.WaitGroup
}

// NewService wires the pipeline to persistence. speech may be nil.
func NewService(
	pl *pipeline.Orchestrator,
	sessions domain.SessionStore,
	log domain.SessionLog,
	speech domain.SpeechSynthesizer,
	opts Options,
) *Service {
	if opts.SpeechTimeout <= 0 {
		opts.SpeechTimeout = DefaultOptions().SpeechTimeout
	}
	return &Service{
		pipeline: pl,
		sessions: sessions,
		log:      log,
		speech:   speech,
		opts:     opts,
		now:      time.Now,
	}
}

type StartSessionInput struct {
	UserID domain.UserID
	Title  string
}

type StartSessionOutput struct {
	Session *domain.Session
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	now := s.now().UTC()

	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID)
	log.Info("starting new session")

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}

	session := &domain.Session{
		ID:        domain.SessionID(ids.New(now)),
		UserID:    in.UserID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	log.Info("session started", "session_id", session.ID)

	return &StartSessionOutput{
		Session: session,
	}, nil
}

func (s *Service) ListSessions(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	sessions, err := s.sessions.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list sessions", "user_id", userID, "error", err)
		return nil, err
	}
	return sessions, nil
}

type SendMessageInput struct {
	Session domain.SessionContext
	Text    string
	// ClientRef identifies the caller's provisional entry.
	ClientRef string
	// History is the caller's view of prior turns; when nil the stored log is used.
	History []*domain.Message
}

type SendMessageOutput struct {
	Result domain.PipelineResult

	// UserMessage is nil when a crisis turn was discarded.
	UserMessage *domain.Message
	// AssistantMessage is nil for crisis results.
	AssistantMessage *domain.Message
}

func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, domain.ErrEmptyMessage
	}

	ctx = observability.WithSession(ctx, in.Session)
	log := observability.LoggerFromContext(ctx)

	session, err := s.sessions.GetSession(ctx, in.Session)
	if err != nil {
		return nil, err
	}

	history := in.History
	if history == nil {
		history, err = s.log.List(ctx, in.Session, s.opts.HistoryWindow)
		if err != nil {
			log.Error("failed to load history", "error", err)
			return nil, err
		}
	}
	history = s.pipelineHistory(history, in.ClientRef)

	// a resend reuses what was stored for the same client ref
	stored, reply, err := s.findTurn(ctx, in.Session, in.ClientRef)
	if err != nil {
		log.Error("failed to look up resent turn", "error", err)
		return nil, err
	}
	if reply != nil {
		log.Info("turn already answered, returning stored reply")
		return &SendMessageOutput{
			Result: domain.PipelineResult{
				Kind:       domain.ResultReply,
				Text:       reply.Text,
				Distortion: stored.Distortion,
			},
			UserMessage:      stored,
			AssistantMessage: reply,
		}, nil
	}

	log.Info("sending message", "history_len", len(history), "resend", stored != nil)

	result, err := s.pipeline.Handle(ctx, in.Session, in.Text, history)
	if err != nil {
		return nil, err
	}

	out := &SendMessageOutput{Result: result}

	if result.IsCrisis() {
		if s.opts.RecordCrisisTurns && stored != nil {
			out.UserMessage = stored
		} else if s.opts.RecordCrisisTurns {
			userMsg, err := s.append(ctx, in.Session, &domain.Message{
				Role:      domain.RoleUser,
				Kind:      domain.KindCrisisFlag,
				Text:      in.Text,
				ClientRef: in.ClientRef,
			})
			if err != nil {
				log.Error("failed to record crisis turn", "error", err)
				return nil, err
			}
			out.UserMessage = userMsg
		}
		log.Warn("crisis detected, no reply generated")
		return out, nil
	}

	userMsg := &domain.Message{
		Role:      domain.RoleUser,
		Kind:      domain.KindText,
		Text:      in.Text,
		ClientRef: in.ClientRef,
	}
	if s.opts.PersistDistortion {
		userMsg.Distortion = result.Distortion
	}

	if stored != nil {
		out.UserMessage = stored
	} else {
		out.UserMessage, err = s.append(ctx, in.Session, userMsg)
		if err != nil {
			log.Error("failed to append user message", "error", err)
			return nil, err
		}
	}

	out.AssistantMessage, err = s.append(ctx, in.Session, &domain.Message{
		Role:      domain.RoleAssistant,
		Kind:      domain.KindText,
		Text:      result.Text,
		ClientRef: in.ClientRef,
	})
	if err != nil {
		log.Error("failed to append assistant message", "error", err)
		return nil, err
	}

	if session.Title == domain.DefaultSessionTitle {
		session.Title = domain.TitleFromMessage(in.Text)
	}
	session.UpdatedAt = s.now().UTC()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		// the turn is already persisted; a stale title is not worth failing it
		log.Warn("failed to update session", "error", err)
	}

	s.synthesize(ctx, in.Session, out.AssistantMessage)

	log.Info("send message completed")

	return out, nil
}

// pipelineHistory drops crisis-flagged turns and any stored copy of the turn
// being sent, then keeps the newest HistoryWindow entries (never fewer than two,
// so first-turn detection is unaffected).
func (s *Service) pipelineHistory(history []*domain.Message, clientRef string) []*domain.Message {
	out := make([]*domain.Message, 0, len(history))
	for _, m := range history {
		if m.Kind == domain.KindCrisisFlag {
			continue
		}
		if clientRef != "" && m.Role == domain.RoleUser && m.ClientRef == clientRef {
			continue
		}
		out = append(out, m)
	}
	if s.opts.HistoryWindow > 0 {
		if keep := max(s.opts.HistoryWindow, 2); len(out) > keep {
			out = out[len(out)-keep:]
		}
	}
	return out
}

// findTurn returns the stored user turn and reply carrying clientRef, either
// of which may be nil.
func (s *Service) findTurn(ctx context.Context, sc domain.SessionContext, clientRef string) (turn, reply *domain.Message, err error) {
	if clientRef == "" {
		return nil, nil, nil
	}
	msgs, err := s.log.List(ctx, sc, 0)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range msgs {
		if m.ClientRef != clientRef {
			continue
		}
		switch m.Role {
		case domain.RoleUser:
			turn = m
		case domain.RoleAssistant:
			reply = m
		}
	}
	if turn == nil {
		reply = nil
	}
	return turn, reply, nil
}

func (s *Service) append(ctx context.Context, sc domain.SessionContext, msg *domain.Message) (*domain.Message, error) {
	stored, err := s.log.Append(ctx, sc, msg)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.opts.Metrics.LogAppend(string(msg.Role), result)
	return stored, err
}

// synthesize requests speech for a persisted reply without blocking the caller.
func (s *Service) synthesize(ctx context.Context, sc domain.SessionContext, msg *domain.Message) {
	if s.speech == nil || msg == nil {
		return
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SpeechTimeout)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()

		log := observability.LoggerFromContext(bgCtx).With("message_id", msg.ID)
		ref, err := s.speech.Synthesize(bgCtx, domain.SpeechRequest{
			Session:   sc,
			MessageID: msg.ID,
			Text:      msg.Text,
		})
		if err != nil {
			log.Warn("speech synthesis failed", "error", err)
			return
		}
		if ref != "" {
			log.Info("speech requested", "ref", ref)
		}
	}()
}

// Wait blocks until background work started by SendMessage has finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) GetSessionTimeline(
	ctx context.Context,
	sc domain.SessionContext,
	limit int,
) (*domain.Session, []*domain.Message, error) {

	log := observability.LoggerFromContext(ctx).With(
		"session_id", sc.SessionID,
		"limit", limit,
	)

	session, err := s.sessions.GetSession(ctx, sc)
	if err != nil {
		log.Error("failed to get session", "error", err)
		return nil, nil, err
	}

	msgs, err := s.log.List(ctx, sc, limit)
	if err != nil {
		log.Error("failed to get messages", "error", err)
		return nil, nil, err
	}

	log.Info("fetched session timeline", "message_count", len(msgs))

	return session, msgs, nil
}

// Subscribe opens the live change feed of a session the user owns.
func (s *Service) Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error) {
	if _, err := s.sessions.GetSession(ctx, sc); err != nil {
		return nil, err
	}
	return s.log.Subscribe(ctx, sc)
}

// DeleteSession removes the session record, then its messages. The second
// step is best effort: a failure leaves orphaned messages and is only logged.
func (s *Service) DeleteSession(ctx context.Context, sc domain.SessionContext) error {
	log := observability.LoggerFromContext(ctx).With("session_id", sc.SessionID)

	if err := s.sessions.DeleteSession(ctx, sc); err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error("failed to delete session", "error", err)
		}
		return err
	}

	if err := s.log.DeleteLog(ctx, sc); err != nil {
		log.Warn("session deleted but its messages were not", "error", err)
	}

	log.Info("session deleted")
	return nil
}

// ClearHistory empties the message log and keeps the session.
func (s *Service) ClearHistory(ctx context.Context, sc domain.SessionContext) error {
	log := observability.LoggerFromContext(ctx).With("session_id", sc.SessionID)

	session, err := s.sessions.GetSession(ctx, sc)
	if err != nil {
		return err
	}

	if err := s.log.DeleteLog(ctx, sc); err != nil {
		log.Error("failed to clear history", "error", err)
		return err
	}

	session.UpdatedAt = s.now().UTC()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		log.Warn("failed to update session", "error", err)
	}

	log.Info("history cleared")
	return nil
}
