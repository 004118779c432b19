package domain

import "time"

type SessionID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind distinguishes regular turns from bookkeeping entries.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindCrisisFlag MessageKind = "crisis_flag" // user turn kept for audit after a crisis abort
)

type Timestamp = time.Time

// SessionContext identifies the conversation every operation acts on.
// It is passed explicitly; nothing in the core reads an ambient user.
type SessionContext struct {
	UserID    UserID
	SessionID SessionID
}

func (sc SessionContext) Valid() bool {
	return sc.UserID != "" && sc.SessionID != ""
}

// DefaultSessionTitle is the title a session carries until its first user turn.
const DefaultSessionTitle = "New Chat"
