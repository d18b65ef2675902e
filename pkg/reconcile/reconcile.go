// Package reconcile merges optimistic local messages with their server
// confirmations and swaps temporary ids for permanent ones.
package reconcile

import (
	"fmt"
	"slices"

	"chatsync/pkg/lifecycle"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Store is the slice of the entity store reconciliation needs.
type Store interface {
	GetMessage(id string) (models.Message, bool)
	ListMessages(conversationID string) []models.Message
	FindByCorrelationToken(conversationID, token string) (models.Message, bool)
	UpsertMessage(m models.Message) models.Message
	ReplaceMessageID(oldID string, m models.Message) models.Message
}

// Outcome says how a confirmation was applied.
type Outcome int

const (
	// Reconciled means an optimistic message was matched and swapped.
	Reconciled Outcome = iota + 1
	// Inserted means no optimistic message matched and the server copy was added.
	Inserted
	// Refreshed means a snapshot message replaced an already confirmed copy.
	Refreshed
)

func (o Outcome) String() string {
	switch o {
	case Reconciled:
		return "reconciled"
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	default:
		return "none"
	}
}

// Result describes the stored message after a reconciliation.
type Result struct {
	Message    models.Message
	Outcome    Outcome
	PreviousID string
	// Conflict is set when the matched message's content diverged. The
	// server content has already been kept.
	Conflict *models.ConflictError
}

// Reconciler matches confirmations for one local user. It keeps a
// temporary -> permanent id map so late references to a swapped id resolve.
// maxAliases bounds the temporary id table. Late references to a swapped
// temporary id arrive within a few events of the swap.
const maxAliases = 4096

type Reconciler struct {
	store      Store
	localUser  string
	aliases    map[string]string
	aliasOrder []string
}

func New(s Store, localUserID string) *Reconciler {
	return &Reconciler{store: s, localUser: localUserID, aliases: make(map[string]string)}
}

// Resolve maps a temporary id that has been swapped to its permanent id.
// Unknown ids are returned unchanged.
func (r *Reconciler) Resolve(id string) string {
	if final, ok := r.aliases[id]; ok {
		return final
	}
	return id
}

// alias records tmp -> final, evicting the oldest entry once the table is full.
func (r *Reconciler) alias(tmp, final string) {
	if _, ok := r.aliases[tmp]; !ok {
		r.aliasOrder = append(r.aliasOrder, tmp)
	}
	r.aliases[tmp] = final
	if len(r.aliasOrder) > maxAliases {
		delete(r.aliases, r.aliasOrder[0])
		r.aliasOrder = r.aliasOrder[1:]
	}
}

// Confirm applies a server confirmation. A confirmation for a permanent id
// that is already stored returns models.ErrStaleEvent and changes nothing.
// Confirmations must carry the server ordering key. One without a sender
// acknowledges a send of the local user's account, possibly from another
// device, and is attributed to the local user.
func (r *Reconciler) Confirm(c models.Confirmation) (Result, error) {
	if c.PermanentID == "" || c.ConversationID == "" {
		return Result{}, fmt.Errorf("%w: confirmation needs permanent and conversation ids", models.ErrInvalidEvent)
	}
	if c.Seq == 0 {
		return Result{}, fmt.Errorf("%w: confirmation %s has no ordering key", models.ErrInvalidEvent, c.PermanentID)
	}
	if c.SenderID == "" {
		c.SenderID = r.localUser
	}
	return r.confirm(c)
}

func (r *Reconciler) confirm(c models.Confirmation) (Result, error) {
	if _, ok := r.store.GetMessage(c.PermanentID); ok {
		return Result{}, fmt.Errorf("confirmation %s: %w", c.PermanentID, models.ErrStaleEvent)
	}

	local, ok, err := r.match(c)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		stored := r.store.UpsertMessage(fromConfirmation(c))
		logger.Debug("reconcile_inserted", "conversation", c.ConversationID, "message", c.PermanentID)
		return Result{Message: stored, Outcome: Inserted}, nil
	}

	merged, conflict := mergeConfirmation(local, c)
	merged, err = lifecycle.Confirm(merged, c.PermanentID, c.Seq, c.Timestamp)
	if err != nil {
		return Result{}, err
	}
	stored := r.store.ReplaceMessageID(local.ID, merged)
	r.alias(local.ID, stored.ID)
	logger.Debug("reconcile_swapped", "conversation", c.ConversationID, "temp", local.ID, "message", stored.ID, "seq", c.Seq)
	return Result{Message: stored, Outcome: Reconciled, PreviousID: local.ID, Conflict: conflict}, nil
}

// ApplySnapshotMessage stores a message delivered inside a conversation
// snapshot. Messages carrying a correlation token are reconciled against
// optimistic copies first. Status never moves backwards.
func (r *Reconciler) ApplySnapshotMessage(m models.Message) (Result, error) {
	if m.ID == "" || m.ConversationID == "" {
		return Result{}, fmt.Errorf("%w: snapshot message needs id and conversation", models.ErrInvalidEvent)
	}
	if !m.Status.Confirmed() {
		m.Status = models.StatusSent
	}
	m.Error = ""

	if existing, ok := r.store.GetMessage(m.ID); ok {
		m.Order.Local = existing.Order.Local
		if existing.Order.Seq != 0 && m.Order.Seq == 0 {
			m.Order.Seq = existing.Order.Seq
		}
		if existing.Status.Confirmed() && existing.Status > m.Status {
			m.Status = existing.Status
		}
		m.IsRead = m.IsRead || existing.IsRead || m.Status == models.StatusRead
		if m.CorrelationToken == "" {
			m.CorrelationToken = existing.CorrelationToken
		}
		stored := r.store.UpsertMessage(m)
		return Result{Message: stored, Outcome: Refreshed}, nil
	}

	res, err := r.confirm(confirmationOf(m))
	if err != nil {
		return Result{}, err
	}
	// carry over what a bare confirmation does not know about
	stored := res.Message
	if m.Status > stored.Status {
		stored, err = lifecycle.Advance(stored, m.Status, m.UpdatedTS)
		if err != nil {
			return Result{}, err
		}
	}
	stored.Reactions = m.Reactions
	stored.Edited = m.Edited
	stored.IsRead = stored.IsRead || m.IsRead
	if res.Outcome == Inserted {
		stored.CreatedBy, stored.UpdatedBy = m.CreatedBy, m.UpdatedBy
		stored.UpdatedTS = m.UpdatedTS
	}
	res.Message = r.store.UpsertMessage(stored)
	return res, nil
}

// match finds the optimistic message a confirmation belongs to. With a
// correlation token only the token is trusted; without one the oldest
// Sending message of the local user with the same content is used.
func (r *Reconciler) match(c models.Confirmation) (models.Message, bool, error) {
	if c.CorrelationToken != "" {
		m, ok := r.store.FindByCorrelationToken(c.ConversationID, c.CorrelationToken)
		if !ok {
			return models.Message{}, false, nil
		}
		if c.SenderID != "" && m.SenderID != c.SenderID {
			return models.Message{}, false, nil
		}
		switch m.Status {
		case models.StatusSending:
			return m, true, nil
		case models.StatusFailed:
			// the server accepted a send we gave up on; keep both
			return models.Message{}, false, nil
		default:
			return models.Message{}, false, fmt.Errorf("token %s already confirmed as %s: %w", c.CorrelationToken, m.ID, models.ErrStaleEvent)
		}
	}

	if c.SenderID != "" && c.SenderID != r.localUser {
		return models.Message{}, false, nil
	}
	candidates := slices.DeleteFunc(r.store.ListMessages(c.ConversationID), func(m models.Message) bool {
		return m.Status != models.StatusSending || m.SenderID != r.localUser || !models.SameContent(m.Content, c.Content)
	})
	if len(candidates) == 0 {
		return models.Message{}, false, nil
	}
	// unconfirmed messages are listed by insertion order, oldest first
	return candidates[0], true, nil
}

func mergeConfirmation(local models.Message, c models.Confirmation) (models.Message, *models.ConflictError) {
	merged := local.Clone()
	if c.SenderType != "" {
		merged.SenderType = c.SenderType
	}
	if c.Content == "" || models.SameContent(local.Content, c.Content) {
		if len(merged.Media) == 0 && len(c.Media) > 0 {
			merged.Media = slices.Clone(c.Media)
		}
		return merged, nil
	}
	conflict := &models.ConflictError{
		MessageID:      c.PermanentID,
		ConversationID: c.ConversationID,
		LocalContent:   local.Content,
		ServerContent:  c.Content,
	}
	merged.Content = c.Content
	merged.Media = slices.Clone(c.Media)
	merged.GIF = c.GIF
	return merged, conflict
}

func fromConfirmation(c models.Confirmation) models.Message {
	senderType := c.SenderType
	if senderType == "" {
		senderType = models.SenderUser
	}
	return models.Message{
		ID:               c.PermanentID,
		CorrelationToken: c.CorrelationToken,
		ConversationID:   c.ConversationID,
		SenderID:         c.SenderID,
		SenderType:       senderType,
		Content:          c.Content,
		Media:            slices.Clone(c.Media),
		GIF:              c.GIF,
		Status:           models.StatusSent,
		Order:            models.OrderKey{Seq: c.Seq},
		CreatedTS:        c.Timestamp,
		UpdatedTS:        c.Timestamp,
		CreatedBy:        c.SenderID,
		UpdatedBy:        c.SenderID,
	}
}

func confirmationOf(m models.Message) models.Confirmation {
	return models.Confirmation{
		PermanentID:      m.ID,
		ConversationID:   m.ConversationID,
		CorrelationToken: m.CorrelationToken,
		Timestamp:        m.CreatedTS,
		Seq:              m.Order.Seq,
		SenderID:         m.SenderID,
		SenderType:       m.SenderType,
		Content:          m.Content,
		Media:            m.Media,
		GIF:              m.GIF,
	}
}
