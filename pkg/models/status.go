package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the delivery state of a message. The set is closed; values
// outside it are rejected by ParseStatus.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusSending
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus parses the wire form of a status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sending":
		return StatusSending, nil
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// Confirmed reports whether the server has acknowledged the message.
func (s Status) Confirmed() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
