package call

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors a Connection implementation is expected to return so the
// coordinator can match on kind instead of catching everything.
var (
	// ErrNoActiveCall: the chat has no running group call.
	ErrNoActiveCall = errors.New("no active group call")
	// ErrAdminRequired: the assistant lacks the rights for the operation.
	ErrAdminRequired = errors.New("admin rights required")
	// ErrAlreadyLeft: leave requested but the assistant is not in the call.
	ErrAlreadyLeft = errors.New("already left call")
	// ErrVolumeUnsupported: the primary volume call is not available.
	ErrVolumeUnsupported = errors.New("volume change unsupported")
	// ErrServerError: transient backend failure, retry later.
	ErrServerError = errors.New("telegram server error")

	// ErrNoAssistant: zero connections configured or reachable.
	ErrNoAssistant = errors.New("no assistant available")
)

// AssistantErr is the recoverable, user-facing error class. Reason is a stable
// machine-readable tag; callers format it into a localized reply.
type AssistantErr struct {
	Reason string
	Err    error
}

func (e *AssistantErr) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assistant: %s: %v", e.Reason, e.Err)
	}
	return "assistant: " + e.Reason
}

func (e *AssistantErr) Unwrap() error { return e.Err }

func assistantErr(reason string, err error) *AssistantErr {
	return &AssistantErr{Reason: reason, Err: err}
}

// Well-known AssistantErr reasons.
const (
	ReasonNoAssistant   = "no-assistant"
	ReasonAdminRequired = "admin-required"
	ReasonServerError   = "server-error"
	ReasonJoinFailed    = "join-failed"
	ReasonNotActive     = "not-active"
	ReasonMismatch      = "mismatch"
	ReasonInvalidSpeed  = "invalid-speed"
	ReasonUnsupported   = "unsupported"
	ReasonInvalidLink   = "invalid-link"
	ReasonStreamFailed  = "stream-failed"
)

// FloodWait is returned by the messenger when the backend imposes a backoff.
// Sends are retried at most once after RetryAfter.
type FloodWait struct {
	RetryAfter time.Duration
}

func (e *FloodWait) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.RetryAfter)
}
