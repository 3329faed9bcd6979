package mapreduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickleOutAdapterMarksInvocationLocalDuplicate(t *testing.T) {
	mapper := func(v int) []KeyValue[string, string] {
		return []KeyValue[string, string]{
			{Key: "a", Value: "same"},
			{Key: "b", Value: "same"},
			{Key: "c", Value: "different"},
		}
	}

	hashed := PickleOutAdapter[int, string, string](mapper, GobCodec[string]())
	out := hashed(0)
	require.Len(t, out, 3)

	assert.NotNil(t, out[0].Value.Payload)
	assert.Nil(t, out[1].Value.Payload, "second occurrence in the same invocation should be marked local-duplicate")
	assert.NotNil(t, out[2].Value.Payload)
	assert.Equal(t, out[0].Value.Hash, out[1].Value.Hash)
	assert.NotEqual(t, out[0].Value.Hash, out[2].Value.Hash)
}

func TestPickleOutInAdapterRoundTrip(t *testing.T) {
	store, err := NewSpillStore("")
	require.NoError(t, err)
	defer store.Discard()

	mapper := func(v int) []KeyValue[string, int] {
		return []KeyValue[string, int]{{Key: "k", Value: v}}
	}
	codec := GobCodec[int]()
	hashed := PickleOutAdapter[int, string, int](mapper, codec)

	dedup := newDedupTable()
	var offsets []int64
	for _, v := range []int{10, 20, 30} {
		for _, kv := range hashed(v) {
			off, err := resolveHashedPayload(dedup, store, kv.Value)
			require.NoError(t, err)
			offsets = append(offsets, off)
		}
	}

	reducer := func(e Entry[string, int]) []int {
		total := 0
		for _, v := range e.Values {
			total += v
		}
		return []int{total}
	}
	restoring := PickleInAdapter(store, codec, reducer)
	got := restoring(Entry[string, int64]{Key: "k", Values: offsets})
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0])
}

func TestPickleInAdapterPanicsOnBadOffset(t *testing.T) {
	store, err := NewSpillStore("")
	require.NoError(t, err)
	defer store.Discard()

	reducer := func(e Entry[string, int]) []int { return nil }
	restoring := PickleInAdapter(store, GobCodec[int](), reducer)

	assert.Panics(t, func() {
		restoring(Entry[string, int64]{Key: "k", Values: []int64{999}})
	})
}
