// Package snapshot persists conversation snapshots in Pebble so a restarted
// process can rehydrate its entity store.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"

	"github.com/cockroachdb/pebble"
	"github.com/valyala/bytebufferpool"
)

const formatVersion = "2"

// Options configures the Pebble instance.
type Options struct {
	CacheSize  int64
	SyncWrites bool
}

type Store struct {
	db   *pebble.DB
	path string
	sync bool
}

// Open opens or creates the snapshot store at path.
func Open(path string, opts Options) (*Store, error) {
	popts := &pebble.Options{}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		popts.Cache = cache
	}
	db, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	s := &Store{db: db, path: path, sync: opts.SyncWrites}
	if err := s.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkVersion() error {
	v, closer, err := s.db.Get([]byte(keys.SystemVersionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return s.db.Set([]byte(keys.SystemVersionKey), []byte(formatVersion), pebble.Sync)
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if string(v) != formatVersion {
		return fmt.Errorf("snapshot store %s has format %q, want %q", s.path, v, formatVersion)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// chooses sync/no-sync WriteOptions
func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Save replaces the stored state with snaps in one atomic batch and returns
// how many records were written. A record whose id cannot form a key fails
// the whole save so the previous checkpoint stays intact.
func (s *Store) Save(snaps []models.Snapshot, at time.Time) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("snapshot store closed")
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange([]byte(keys.ConversationPrefix), []byte(keys.ConversationUpper), nil); err != nil {
		return 0, err
	}
	written := 0
	for _, snap := range snaps {
		ck, err := keys.GenConversationKey(snap.Conversation.ID)
		if err != nil {
			return 0, fmt.Errorf("conversation key: %w", err)
		}
		if err := setJSON(batch, ck, snap.Conversation); err != nil {
			return written, err
		}
		written++
		for _, m := range snap.Messages {
			mk, err := keys.GenMessageKey(snap.Conversation.ID, m.ID)
			if err != nil {
				return 0, fmt.Errorf("message key in %s: %w", snap.Conversation.ID, err)
			}
			if err := setJSON(batch, mk, m); err != nil {
				return written, err
			}
			written++
		}
	}
	ts := strconv.FormatInt(at.UnixNano(), 10)
	if err := batch.Set([]byte(keys.SystemCheckpointKey), []byte(ts), nil); err != nil {
		return written, err
	}
	if err := batch.Commit(s.writeOpt()); err != nil {
		logger.Error("pebble_apply_batch_failed", "error", err)
		return written, err
	}
	return written, nil
}

func setJSON(batch *pebble.Batch, key string, v any) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	// Set copies key and value into the batch
	return batch.Set([]byte(key), bb.B, nil)
}

// Load reads every stored conversation with its messages. Conversations are
// returned in key order; messages without a conversation record are dropped.
func (s *Store) Load() ([]models.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("snapshot store closed")
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keys.ConversationPrefix),
		UpperBound: []byte(keys.ConversationUpper),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	byID := make(map[string]*models.Snapshot)
	var order []string
	orphans := 0
	for iter.First(); iter.Valid(); iter.Next() {
		parts, err := keys.Parse(string(iter.Key()))
		if err != nil {
			logger.Warn("snapshot_key_skipped", "key", string(iter.Key()), "error", err)
			continue
		}
		if parts.MessageID == "" {
			var c models.Conversation
			if err := json.Unmarshal(iter.Value(), &c); err != nil {
				return nil, fmt.Errorf("decode conversation %s: %w", parts.ConversationID, err)
			}
			byID[c.ID] = &models.Snapshot{Conversation: c}
			order = append(order, c.ID)
			continue
		}
		snap, ok := byID[parts.ConversationID]
		if !ok {
			orphans++
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", parts.MessageID, err)
		}
		snap.Messages = append(snap.Messages, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if orphans > 0 {
		logger.Warn("snapshot_orphan_messages", "count", orphans)
	}
	out := make([]models.Snapshot, 0, len(order))
	for _, id := range order {
		snap := byID[id]
		slices.SortFunc(snap.Messages, models.CompareMessages)
		out = append(out, *snap)
	}
	return out, nil
}

// LastCheckpoint returns the time of the last successful Save.
func (s *Store) LastCheckpoint() (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, fmt.Errorf("snapshot store closed")
	}
	v, closer, err := s.db.Get([]byte(keys.SystemCheckpointKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	defer closer.Close()
	ns, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint time: %w", err)
	}
	return time.Unix(0, ns), true, nil
}
