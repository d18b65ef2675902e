package models

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleEvent marks an event that no longer applies (duplicate or out of order).
	ErrStaleEvent          = errors.New("stale event ignored")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownMessage      = errors.New("unknown message")
	// ErrNotConfirmed is returned for a status change that arrives before the
	// message's confirmation.
	ErrNotConfirmed      = errors.New("message not confirmed yet")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidEvent      = errors.New("invalid event")
)

// SendFailedError describes an outbound send the transport gave up on.
type SendFailedError struct {
	MessageID        string
	ConversationID   string
	CorrelationToken string
	Reason           string
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed for message %s: %s", e.MessageID, e.Reason)
}

// ConflictError is raised when a confirmation matches an optimistic message
// whose content diverges from the server's copy. The server copy is kept.
type ConflictError struct {
	MessageID      string
	ConversationID string
	LocalContent   string
	ServerContent  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on message %s", e.MessageID)
}

// Buffered reports whether err should park the event for a later retry
// rather than drop it.
func Buffered(err error) bool {
	return errors.Is(err, ErrUnknownConversation) ||
		errors.Is(err, ErrUnknownMessage) ||
		errors.Is(err, ErrNotConfirmed)
}
