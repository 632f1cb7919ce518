package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingKeepsNewest(t *testing.T) {
	h := NewHub(2)
	h.Publish(TypePolicyChanged, map[string]any{"id": 1})
	h.Publish(TypePolicyChanged, map[string]any{"id": 2})
	h.Publish(TypeExecutionRecorded, map[string]any{"id": 3})

	all := h.SnapshotSince(0)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].ID)
	assert.Equal(t, int64(3), all[1].ID)
	assert.JSONEq(t, `{"id":3}`, string(all[1].Data))

	since := h.SnapshotSince(2)
	require.Len(t, since, 1)
	assert.Equal(t, TypeExecutionRecorded, since[0].Type)
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish(TypeTriggerDuplicate, nil)
	ev := <-ch
	assert.Equal(t, TypeTriggerDuplicate, ev.Type)
	assert.Equal(t, "{}", string(ev.Data))

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(TypePolicyChanged, nil) })
}
