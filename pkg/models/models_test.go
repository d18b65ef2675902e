package models

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"sending":    StatusSending,
		"Sent":       StatusSent,
		" delivered": StatusDelivered,
		"read":       StatusRead,
		"failed":     StatusFailed,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseStatus(%q) = %v, want %v", in, got, want)
		}
	}

	_, err := ParseStatus("seen")
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, `"delivered"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"read"`), &s))
	assert.Equal(t, StatusRead, s)
	assert.Error(t, json.Unmarshal([]byte(`"archived"`), &s))
}

func TestCompareMessagesPutsUnconfirmedLast(t *testing.T) {
	msgs := []Message{
		{ID: "tmp-b", Order: OrderKey{Local: 5}},
		{ID: "srv-2", Order: OrderKey{Seq: 20, Local: 1}},
		{ID: "tmp-a", Order: OrderKey{Local: 3}},
		{ID: "srv-1", Order: OrderKey{Seq: 10, Local: 9}},
	}
	slices.SortFunc(msgs, CompareMessages)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"srv-1", "srv-2", "tmp-a", "tmp-b"}, ids)
}

func TestNormalizeParticipants(t *testing.T) {
	got := NormalizeParticipants([]string{"u2", "", "u1", "u2"})
	assert.Equal(t, []string{"u1", "u2"}, got)
}

func TestSameContent(t *testing.T) {
	assert.True(t, SameContent("hi  there\n", " hi there"))
	assert.False(t, SameContent("hi there", "hi, there"))
}

func TestCloneIsDeep(t *testing.T) {
	m := Message{ID: "m1", Reactions: map[string]string{"u1": "like"}}
	c := m.Clone()
	c.Reactions["u1"] = "love"
	assert.Equal(t, "like", m.Reactions["u1"])
}

func TestBuffered(t *testing.T) {
	assert.True(t, Buffered(ErrNotConfirmed))
	assert.True(t, Buffered(errors.Join(errors.New("x"), ErrUnknownMessage)))
	assert.False(t, Buffered(ErrStaleEvent))
}
