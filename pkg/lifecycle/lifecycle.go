// Package lifecycle implements the per-message status machine:
//
//	Sending -> Sent -> Delivered -> Read
//	Sending -> Failed (terminal)
//
// Functions take a message by value and return the updated copy; storing it
// is the caller's job.
package lifecycle

import (
	"fmt"

	"chatsync/pkg/models"
)

const defaultFailReason = "send failed"

// Confirm applies the server acknowledgment. It is the only transition that
// changes a message id and is accepted only while the message is Sending.
func Confirm(m models.Message, permanentID string, seq uint64, ts int64) (models.Message, error) {
	if permanentID == "" {
		return m, fmt.Errorf("%w: confirmation without permanent id", models.ErrInvalidEvent)
	}
	if m.Status != models.StatusSending {
		return m, fmt.Errorf("confirm %s in status %s: %w", m.ID, m.Status, models.ErrStaleEvent)
	}
	m.ID = permanentID
	m.Status = models.StatusSent
	m.Error = ""
	m.Order.Seq = seq
	if ts > 0 {
		m.CreatedTS = ts
		m.UpdatedTS = ts
	}
	return m, nil
}

// Advance moves a confirmed message forward. Status never moves backwards;
// Read may be reached directly and implies Delivered.
func Advance(m models.Message, to models.Status, ts int64) (models.Message, error) {
	switch to {
	case models.StatusSent, models.StatusDelivered, models.StatusRead:
	case models.StatusSending, models.StatusFailed:
		return m, fmt.Errorf("advance %s to %s: %w", m.ID, to, models.ErrIllegalTransition)
	default:
		return m, fmt.Errorf("advance %s: %w", m.ID, models.ErrUnknownStatus)
	}

	switch m.Status {
	case models.StatusSending:
		return m, fmt.Errorf("advance %s to %s: %w", m.ID, to, models.ErrNotConfirmed)
	case models.StatusFailed:
		return m, fmt.Errorf("advance failed message %s: %w", m.ID, models.ErrStaleEvent)
	case models.StatusSent, models.StatusDelivered, models.StatusRead:
		if to <= m.Status {
			return m, fmt.Errorf("advance %s from %s to %s: %w", m.ID, m.Status, to, models.ErrStaleEvent)
		}
	default:
		return m, fmt.Errorf("message %s: %w", m.ID, models.ErrUnknownStatus)
	}

	m.Status = to
	if to == models.StatusRead {
		m.IsRead = true
	}
	if ts > 0 {
		m.UpdatedTS = ts
	}
	return m, nil
}

// Fail marks a Sending message as Failed with reason as its error detail.
func Fail(m models.Message, reason string, ts int64) (models.Message, error) {
	if m.Status != models.StatusSending {
		return m, fmt.Errorf("fail %s in status %s: %w", m.ID, m.Status, models.ErrIllegalTransition)
	}
	if reason == "" {
		reason = defaultFailReason
	}
	m.Status = models.StatusFailed
	m.Error = reason
	if ts > 0 {
		m.UpdatedTS = ts
	}
	return m, nil
}

// Check verifies the status invariants of a stored message.
func Check(m models.Message) error {
	switch m.Status {
	case models.StatusSending, models.StatusSent, models.StatusDelivered, models.StatusRead:
		if m.Error != "" {
			return fmt.Errorf("message %s has error detail in status %s", m.ID, m.Status)
		}
	case models.StatusFailed:
		if m.Error == "" {
			return fmt.Errorf("failed message %s has no error detail", m.ID)
		}
	default:
		return fmt.Errorf("message %s: %w", m.ID, models.ErrUnknownStatus)
	}
	return nil
}
