// Package transport defines the outbound port from the sync core to the chat
// server and ships two adapters: an in-memory Recorder and a rate limited
// wrapper.
package transport

import (
	"context"

	"chatsync/pkg/models"
)

// SendRequest asks the server to accept a new message.
type SendRequest struct {
	ConversationID   string              `json:"conversation_id"`
	TempID           string              `json:"temp_id"`
	CorrelationToken string              `json:"correlation_token"`
	Content          string              `json:"content,omitempty"`
	Media            []models.Attachment `json:"media,omitempty"`
	GIF              string              `json:"gif,omitempty"`
}

// Transport is implemented by whatever talks to the chat server. Calls are
// made from the sync worker and must return promptly; results come back as
// inbound events.
type Transport interface {
	RequestSend(ctx context.Context, req SendRequest) error
	RequestMarkRead(ctx context.Context, conversationID string, upToSeq uint64) error
	RequestReaction(ctx context.Context, messageID, reaction string) error
}
