package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("audit.appended", map[string]string{"event": "webhook_received"})

	ev := <-ch
	assert.EqualValues(t, 1, ev.ID)
	assert.Equal(t, "audit.appended", ev.Type)
	assert.JSONEq(t, `{"event":"webhook_received"}`, string(ev.Data))
	assert.False(t, ev.At.IsZero())
}

func TestPublishNilData(t *testing.T) {
	h := NewHub(1)
	h.Publish("ping", nil)
	snap := h.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, json.RawMessage("{}"), snap[0].Data)
}

func TestSnapshotRingOverwritesOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("e", i)
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.EqualValues(t, 3, snap[0].ID)
	assert.EqualValues(t, 5, snap[2].ID)

	snap = h.SnapshotSince(4)
	require.Len(t, snap, 1)
	assert.EqualValues(t, 5, snap[0].ID)

	assert.Empty(t, h.SnapshotSince(5))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(2)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish("e", i)
	}
	assert.EqualValues(t, 10, h.Dropped())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	h.Publish("after-cancel", nil)
}
