package models

import (
	"fmt"
	"slices"
)

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct_message"
	ConversationGroup  ConversationType = "group_chat"
	ConversationAIBot  ConversationType = "ai_bot"
)

// Valid reports whether t is one of the known types.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationAIBot:
		return true
	default:
		return false
	}
}

type Conversation struct {
	ID     string           `json:"id"`
	Type   ConversationType `json:"type"`
	Name   string           `json:"name,omitempty"`
	Avatar string           `json:"avatar,omitempty"`
	// Participants is kept sorted and de-duplicated.
	Participants []string `json:"participants"`
	BotID        string   `json:"bot_id,omitempty"`
	// LastMessageID points at the highest ordered non-failed message, or is empty.
	LastMessageID string `json:"last_message_id,omitempty"`
	UnreadCount   int    `json:"unread_count"`
	Muted         bool   `json:"muted,omitempty"`
	// IsNew is true only until the server first acknowledges the conversation.
	IsNew     bool  `json:"is_new,omitempty"`
	CreatedTS int64 `json:"created_ts,omitempty"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	return c
}

// Validate checks the fields required on every conversation.
func (c Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidEvent)
	}
	if c.Type != "" && !c.Type.Valid() {
		return fmt.Errorf("%w: conversation type %q", ErrInvalidEvent, c.Type)
	}
	return nil
}

// NormalizeParticipants sorts ids and drops blanks and duplicates.
func NormalizeParticipants(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
