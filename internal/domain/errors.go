package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrEmptyMessage           = errors.New("message text is empty")
	ErrSafetyCheckUnavailable = errors.New("safety check unavailable")
	ErrReplyUnavailable       = errors.New("reply unavailable")
	ErrInvalidInput           = errors.New("invalid input")
)

// Capability names one operation of the language service.
type Capability string

const (
	CapabilityPersonaReply Capability = "persona_reply"
	CapabilityDistortion   Capability = "distortion_analysis"
	CapabilityCrisis       Capability = "crisis_analysis"
)

type AdapterErrorKind string

const (
	AdapterTimeout       AdapterErrorKind = "timeout"
	AdapterInvalidOutput AdapterErrorKind = "invalid_output"
	AdapterUpstream      AdapterErrorKind = "upstream"
)

// AdapterError is the typed failure every language service call reports.
type AdapterError struct {
	Capability Capability
	Kind       AdapterErrorKind
	Err        error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Capability, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// AdapterErrorKindOf returns the kind of the first AdapterError in err's chain.
func AdapterErrorKindOf(err error) (AdapterErrorKind, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
