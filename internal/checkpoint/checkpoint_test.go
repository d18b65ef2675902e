package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

type staticSource []models.Snapshot

func (s staticSource) Snapshot() []models.Snapshot { return s }

type memSink struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (s *memSink) Save(snaps []models.Snapshot, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.saves++
	n := 0
	for _, snap := range snaps {
		n += len(snap.Messages)
	}
	return n, nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func source() staticSource {
	return staticSource{{
		Conversation: models.Conversation{ID: "c1", Type: models.ConversationDirect},
		Messages:     []models.Message{{ID: "m1", ConversationID: "c1"}},
	}}
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New("not a cron", source(), &memSink{}, nil)
	if err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestRunNowRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &memSink{}
	mgr, err := New("*/5 * * * *", source(), sink, m)
	require.NoError(t, err)

	require.NoError(t, mgr.RunNow())
	assert.Equal(t, 1, sink.count())
	assert.False(t, mgr.LastRun().IsZero())

	sink.err = errors.New("disk full")
	assert.Error(t, mgr.RunNow())

	n, err := testutil.GatherAndCount(reg, "chatsync_checkpoints_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStopWritesFinalCheckpoint(t *testing.T) {
	sink := &memSink{}
	mgr, err := New("0 0 1 1 *", source(), sink, nil)
	require.NoError(t, err)

	mgr.Start(context.Background())
	require.NoError(t, mgr.Stop())
	assert.Equal(t, 1, sink.count())
}
