// Package store holds the canonical conversation and message records. It has
// no business rules: callers read-modify-write whole records.
package store

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"chatsync/pkg/models"
)

// Store is the in-memory entity store. Reads may happen from any goroutine;
// the sync engine performs all writes from its single worker.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]models.Conversation
	msgs   map[string]models.Message
	byConv map[string]map[string]struct{}

	// small counter used for the local half of the ordering key
	localSeq atomic.Uint64
}

func New() *Store {
	return &Store{
		convs:  make(map[string]models.Conversation),
		msgs:   make(map[string]models.Message),
		byConv: make(map[string]map[string]struct{}),
	}
}

// NextLocalSeq returns the next insertion counter value.
func (s *Store) NextLocalSeq() uint64 {
	return s.localSeq.Add(1)
}

// UpsertConversation replaces the conversation with the same id.
func (s *Store) UpsertConversation(c models.Conversation) {
	c = c.Clone()
	c.Participants = models.NormalizeParticipants(c.Participants)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
}

func (s *Store) GetConversation(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return models.Conversation{}, false
	}
	return c.Clone(), true
}

// ListConversations returns every conversation, most recently active first.
func (s *Store) ListConversations() []models.Conversation {
	s.mu.RLock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.Conversation) int {
		if c := cmp.Compare(b.UpdatedTS, a.UpdatedTS); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// UpsertMessage replaces the message with the same id. A zero local ordering
// counter is assigned on first insert.
func (s *Store) UpsertMessage(m models.Message) models.Message {
	m = m.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.msgs[m.ID]; ok {
		if m.Order.Local == 0 {
			m.Order.Local = prev.Order.Local
		}
		if prev.ConversationID != m.ConversationID {
			s.unindexLocked(prev)
		}
	}
	if m.Order.Local == 0 {
		m.Order.Local = s.NextLocalSeq()
	} else {
		s.observeLocal(m.Order.Local)
	}
	s.msgs[m.ID] = m
	s.indexLocked(m)
	return m.Clone()
}

// observeLocal keeps the insertion counter ahead of restored records.
func (s *Store) observeLocal(v uint64) {
	for {
		cur := s.localSeq.Load()
		if cur >= v || s.localSeq.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (s *Store) GetMessage(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return models.Message{}, false
	}
	return m.Clone(), true
}

// ReplaceMessageID removes oldID and stores m under its new id in one step.
func (s *Store) ReplaceMessageID(oldID string, m models.Message) models.Message {
	m = m.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.msgs[oldID]; ok {
		s.unindexLocked(prev)
		delete(s.msgs, oldID)
		if m.Order.Local == 0 {
			m.Order.Local = prev.Order.Local
		}
	}
	if m.Order.Local == 0 {
		m.Order.Local = s.NextLocalSeq()
	}
	s.msgs[m.ID] = m
	s.indexLocked(m)
	return m.Clone()
}

// DeleteMessage removes the message and reports whether it existed.
func (s *Store) DeleteMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return false
	}
	s.unindexLocked(m)
	delete(s.msgs, id)
	return true
}

// ListMessages returns the conversation's messages in ordering key order.
func (s *Store) ListMessages(conversationID string) []models.Message {
	s.mu.RLock()
	ids := s.byConv[conversationID]
	out := make([]models.Message, 0, len(ids))
	for id := range ids {
		out = append(out, s.msgs[id].Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, models.CompareMessages)
	return out
}

// FindByCorrelationToken looks up a message of the conversation by the token
// the client attached when sending.
func (s *Store) FindByCorrelationToken(conversationID, token string) (models.Message, bool) {
	if token == "" {
		return models.Message{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.byConv[conversationID] {
		if m := s.msgs[id]; m.CorrelationToken == token {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// FindByToken searches every conversation for the token.
func (s *Store) FindByToken(token string) (models.Message, bool) {
	if token == "" {
		return models.Message{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs {
		if m.CorrelationToken == token {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Counts returns the number of conversations and messages held.
func (s *Store) Counts() (conversations, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs), len(s.msgs)
}

func (s *Store) indexLocked(m models.Message) {
	set, ok := s.byConv[m.ConversationID]
	if !ok {
		set = make(map[string]struct{})
		s.byConv[m.ConversationID] = set
	}
	set[m.ID] = struct{}{}
}

func (s *Store) unindexLocked(m models.Message) {
	if set, ok := s.byConv[m.ConversationID]; ok {
		delete(set, m.ID)
		if len(set) == 0 {
			delete(s.byConv, m.ConversationID)
		}
	}
}
