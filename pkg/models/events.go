package models

// Confirmation is the server's acknowledgment of a message. Optional fields
// are left zero when the server omits them.
type Confirmation struct {
	PermanentID      string       `json:"permanent_id"`
	ConversationID   string       `json:"conversation_id"`
	CorrelationToken string       `json:"correlation_token,omitempty"`
	Timestamp        int64        `json:"ts"`
	Seq              uint64       `json:"seq"`
	SenderID         string       `json:"sender_id,omitempty"`
	SenderType       SenderType   `json:"sender_type,omitempty"`
	Content          string       `json:"content,omitempty"`
	Media            []Attachment `json:"media,omitempty"`
	GIF              string       `json:"gif,omitempty"`
}

// StatusEvent reports a delivery status change for a message.
type StatusEvent struct {
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"ts,omitempty"`
}

// ReactionEvent sets or clears (empty Reaction) one actor's reaction.
type ReactionEvent struct {
	MessageID string `json:"message_id"`
	ActorID   string `json:"actor_id"`
	Reaction  string `json:"reaction,omitempty"`
}

// Snapshot is the server's authoritative copy of a conversation and a page of
// its messages.
type Snapshot struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages,omitempty"`
}

// SendFailure is reported by the transport when it gives up on a send.
type SendFailure struct {
	CorrelationToken string `json:"correlation_token"`
	Reason           string `json:"reason"`
	Timestamp        int64  `json:"ts,omitempty"`
}

// EditEvent replaces the content of a confirmed message.
type EditEvent struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts,omitempty"`
}
