package keys

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

const (
	// notation dictionary for key formats:
	// c   = conversation
	// m   = message
	// All keys are lowercase; segments are separated by ":"
	// <...> = variable segment, stored base64url encoded without padding
	// (e.g. <conversation_id>, <msg_id>)

	ConversationKey = "c:%s"      // c:<conversation_id>
	MessageKey      = "c:%s:m:%s" // c:<conversation_id>:m:<msg_id>

	// ConversationPrefix and ConversationUpper bound every conversation and
	// message key (';' sorts right after ':').
	ConversationPrefix = "c:"
	ConversationUpper  = "c;"

	// system keys
	SystemVersionKey    = "system:version"
	SystemCheckpointKey = "system:checkpoint_ts"
)

// ids are opaque, so every segment is encoded; the alphabet never contains ':'
var (
	segment               = base64.RawURLEncoding
	conversationKeyRegexp = regexp.MustCompile(`^c:([A-Za-z0-9_-]+)$`)
	messageKeyRegexp      = regexp.MustCompile(`^c:([A-Za-z0-9_-]+):m:([A-Za-z0-9_-]+)$`)
)

// ValidateID checks that id can be embedded in a key.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("invalid id %q: empty", id)
	}
	return nil
}

func encode(id string) string { return segment.EncodeToString([]byte(id)) }

func decode(seg string) (string, error) {
	b, err := segment.DecodeString(seg)
	if err != nil {
		return "", fmt.Errorf("decode key segment %q: %w", seg, err)
	}
	return string(b), nil
}

func GenConversationKey(conversationID string) (string, error) {
	if err := ValidateID(conversationID); err != nil {
		return "", err
	}
	return fmt.Sprintf(ConversationKey, encode(conversationID)), nil
}

func GenMessageKey(conversationID, messageID string) (string, error) {
	if err := ValidateID(conversationID); err != nil {
		return "", err
	}
	if err := ValidateID(messageID); err != nil {
		return "", err
	}
	return fmt.Sprintf(MessageKey, encode(conversationID), encode(messageID)), nil
}

// KeyParts is the decoded form of a conversation or message key.
// MessageID is empty for conversation keys.
type KeyParts struct {
	ConversationID string
	MessageID      string
}

// Parse decodes a conversation or message key.
func Parse(key string) (KeyParts, error) {
	if m := messageKeyRegexp.FindStringSubmatch(key); m != nil {
		conv, err := decode(m[1])
		if err != nil {
			return KeyParts{}, err
		}
		msg, err := decode(m[2])
		if err != nil {
			return KeyParts{}, err
		}
		return KeyParts{ConversationID: conv, MessageID: msg}, nil
	}
	if m := conversationKeyRegexp.FindStringSubmatch(key); m != nil {
		conv, err := decode(m[1])
		if err != nil {
			return KeyParts{}, err
		}
		return KeyParts{ConversationID: conv}, nil
	}
	return KeyParts{}, fmt.Errorf("unrecognised key %q", key)
}
