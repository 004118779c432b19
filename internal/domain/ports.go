package domain

import (
	"context"
	"fmt"
	"strings"
)

// PersonaMode selects the assistant prompt strategy.
type PersonaMode string

const (
	PersonaIntroductory PersonaMode = "introductory"
	PersonaContinuation PersonaMode = "continuation"
)

type PersonaInput struct {
	Mode        PersonaMode
	UserMessage string
	// SessionHistory is the "role: text" transcript, only used in continuation mode.
	SessionHistory string
}

func (in PersonaInput) Validate() error {
	if strings.TrimSpace(in.UserMessage) == "" {
		return fmt.Errorf("%w: persona input without user message", ErrInvalidInput)
	}
	switch in.Mode {
	case PersonaIntroductory, PersonaContinuation:
	default:
		return fmt.Errorf("%w: unknown persona mode %q", ErrInvalidInput, in.Mode)
	}
	return nil
}

type PersonaOutput struct {
	AIResponse string `json:"aiResponse"`
}

func (out PersonaOutput) Validate() error {
	if strings.TrimSpace(out.AIResponse) == "" {
		return fmt.Errorf("empty aiResponse")
	}
	return nil
}

type DistortionInput struct {
	UserMessage string
}

type DistortionOutput struct {
	HasDistortion        bool   `json:"hasDistortion"`
	IdentifiedDistortion string `json:"identifiedDistortion"`
	SuggestedChallenge   string `json:"suggestedChallenge"`
}

func (out DistortionOutput) Validate() error {
	if out.HasDistortion && strings.TrimSpace(out.IdentifiedDistortion) == "" {
		return fmt.Errorf("distortion flagged without a name")
	}
	return nil
}

// Annotation converts the output into a message annotation, nil when nothing was found.
func (out DistortionOutput) Annotation() *DistortionAnnotation {
	if !out.HasDistortion {
		return nil
	}
	return &DistortionAnnotation{
		HasDistortion:        true,
		IdentifiedDistortion: out.IdentifiedDistortion,
		SuggestedChallenge:   out.SuggestedChallenge,
	}
}

type CrisisInput struct {
	UserMessage string
}

type CrisisOutput struct {
	IsCrisis bool   `json:"isCrisis"`
	Advisory string `json:"advisory"`
}

// Validate accepts any verdict once decoded: a crisis with a blank advisory
// still stops the pipeline, and the classifier supplies the resources.
// Missing fields are rejected by the adapter that decodes the wire output.
func (out CrisisOutput) Validate() error {
	return nil
}

// LanguageService is the structured-output boundary to the language model.
// Every failure is reported as *AdapterError.
type LanguageService interface {
	PersonaReply(ctx context.Context, in PersonaInput) (PersonaOutput, error)
	AnalyzeDistortion(ctx context.Context, in DistortionInput) (DistortionOutput, error)
	AnalyzeCrisis(ctx context.Context, in CrisisInput) (CrisisOutput, error)
}

// SessionStore defines session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	// GetSession returns ErrSessionNotFound when the session does not exist or belongs to another user.
	GetSession(ctx context.Context, sc SessionContext) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID UserID, limit int) ([]*Session, error)
	DeleteSession(ctx context.Context, sc SessionContext) error
}

// LogEvent is one notification of a session log subscription.
type LogEvent struct {
	// Initial marks the backlog delivered right after subscribing.
	Initial bool
	Added   []*Message
	// Cleared means every earlier message was removed from the log.
	Cleared bool
	// Err reports a subscription failure; the channel is closed after it.
	Err error
}

// SessionLog is the append-only, per-session message log.
type SessionLog interface {
	// Append persists msg, assigning ID, CreatedAt and Seq, and returns the stored copy.
	Append(ctx context.Context, sc SessionContext, msg *Message) (*Message, error)
	// List returns the timeline in order; limit > 0 keeps the newest entries.
	List(ctx context.Context, sc SessionContext, limit int) ([]*Message, error)
	// Subscribe delivers the backlog and then every visible append until ctx ends.
	Subscribe(ctx context.Context, sc SessionContext) (<-chan LogEvent, error)
	DeleteLog(ctx context.Context, sc SessionContext) error
}

type SpeechRequest struct {
	Session   SessionContext
	MessageID MessageID
	Text      string
}

// SpeechSynthesizer turns an assistant reply into audio. Returns a reference to the audio or job.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (string, error)
}
