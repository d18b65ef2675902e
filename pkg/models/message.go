package models

import (
	"maps"
	"slices"
	"strings"
)

// SenderType distinguishes human and bot authors.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderBot  SenderType = "bot"
)

// Attachment references uploaded media.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ReactionSummary maps reaction type to the number of actors holding it.
// Types with no actors are absent.
type ReactionSummary map[string]int

// Count returns the count for kind, zero when absent.
func (r ReactionSummary) Count(kind string) int {
	return r[kind]
}

type Message struct {
	// ID is the temporary client id (tmp-...) while Sending and the permanent
	// server id afterwards.
	ID string `json:"id"`
	// CorrelationToken is generated by the client and echoed by the server
	// confirmation. It never changes.
	CorrelationToken string            `json:"correlation_token,omitempty"`
	ConversationID   string            `json:"conversation_id"`
	SenderID         string            `json:"sender_id"`
	SenderType       SenderType        `json:"sender_type,omitempty"`
	Content          string            `json:"content"`
	Media            []Attachment      `json:"media,omitempty"`
	GIF              string            `json:"gif,omitempty"`
	Status           Status            `json:"status"`
	IsRead           bool              `json:"is_read,omitempty"`
	Edited           bool              `json:"edited,omitempty"`
	Error            string            `json:"error,omitempty"`
	Reactions        map[string]string `json:"reactions,omitempty"`
	Summary          ReactionSummary   `json:"summary,omitempty"`
	CallerReaction   string            `json:"caller_reaction,omitempty"`
	Order            OrderKey          `json:"order"`
	CreatedTS        int64             `json:"created_ts,omitempty"`
	UpdatedTS        int64             `json:"updated_ts,omitempty"`
	CreatedBy        string            `json:"created_by,omitempty"`
	UpdatedBy        string            `json:"updated_by,omitempty"`
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (m Message) Clone() Message {
	m.Media = slices.Clone(m.Media)
	m.Reactions = maps.Clone(m.Reactions)
	m.Summary = maps.Clone(m.Summary)
	return m
}

// NormalizeContent collapses runs of whitespace and trims the ends.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SameContent compares two bodies ignoring whitespace differences.
func SameContent(a, b string) bool {
	return NormalizeContent(a) == NormalizeContent(b)
}
