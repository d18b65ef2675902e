package reactions

import (
	"testing"

	"chatsync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceReactionOfSameActor(t *testing.T) {
	agg := New("u1")
	m := models.Message{ID: "srv-42"}

	m, changed, err := agg.Apply(m, "u1", "like")
	require.NoError(t, err)
	assert.True(t, changed)
	m, changed, err = agg.Apply(m, "u1", "love")
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 1, m.Summary.Count("love"))
	assert.Equal(t, 0, m.Summary.Count("like"))
	_, present := m.Summary["like"]
	assert.False(t, present, "zero-count types are absent")
	assert.Equal(t, "love", m.CallerReaction)
}

func TestCountsEqualDistinctActors(t *testing.T) {
	agg := New("me")
	m := models.Message{ID: "m"}
	events := []struct{ actor, kind string }{
		{"a", "like"}, {"b", "like"}, {"c", "laugh"}, {"a", "like"}, {"b", ""}, {"me", "laugh"},
	}
	for _, ev := range events {
		var err error
		m, _, err = agg.Apply(m, ev.actor, ev.kind)
		require.NoError(t, err)
	}
	assert.Equal(t, models.ReactionSummary{"like": 1, "laugh": 2}, m.Summary)
	assert.Equal(t, "laugh", m.CallerReaction)

	total := 0
	for _, n := range m.Summary {
		total += n
	}
	assert.Equal(t, len(m.Reactions), total)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	agg := New("me")
	m, changed, err := agg.Apply(models.Message{ID: "m"}, "x", "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, m.Reactions)
	assert.Nil(t, m.Summary)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	agg := New("me")
	in := models.Message{ID: "m", Reactions: map[string]string{"a": "like"}}
	_, _, err := agg.Apply(in, "a", "love")
	require.NoError(t, err)
	assert.Equal(t, "like", in.Reactions["a"])
}

func TestApplyRequiresActor(t *testing.T) {
	_, _, err := New("me").Apply(models.Message{ID: "m"}, " ", "like")
	assert.ErrorIs(t, err, models.ErrInvalidEvent)
}
