package mapreduce

import (
	"context"
	"encoding/gob"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gob.Register(0)
}

func TestMapReduceChainTwoStages(t *testing.T) {
	p := NewPool(WithWorkers(2))
	defer p.Teardown()

	words := []any{"a", "b", "a", "c", "b", "a"}

	count := func(w any) []any {
		return []any{KeyValue[any, any]{Key: w.(string), Value: 1}}
	}
	sum := func(e any) []any {
		entry := e.(Entry[any, any])
		total := 0
		for _, v := range entry.Values {
			total += v.(int)
		}
		return []any{KeyValue[string, int]{Key: entry.Key.(string), Value: total}}
	}

	stages := []ChainStage{
		NewChainStage("count", count),
		NewChainStage("sum", sum),
	}

	out, err := MapReduceChain(context.Background(), p, FromSlice(words), stages, GobCodec[any](), "", nil)
	require.NoError(t, err)

	var got []KeyValue[string, int]
	for _, v := range out {
		got = append(got, v.(KeyValue[string, int]))
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Key < got[j].Key })

	assert.Equal(t, []KeyValue[string, int]{
		{Key: "a", Value: 3},
		{Key: "b", Value: 2},
		{Key: "c", Value: 1},
	}, got)
}

func TestMapReduceChainRejectsNoStages(t *testing.T) {
	p := NewPool(WithWorkers(1))
	defer p.Teardown()

	_, err := MapReduceChain(context.Background(), p, FromSlice([]any{1}), nil, GobCodec[any](), "", nil)
	assert.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestMapReduceChainSingleStage(t *testing.T) {
	p := NewPool(WithWorkers(2))
	defer p.Teardown()

	double := func(item any) []any {
		return []any{item.(int) * 2}
	}
	stages := []ChainStage{NewChainStage("double", double)}

	out, err := MapReduceChain(context.Background(), p, FromSlice([]any{1, 2, 3}), stages, GobCodec[any](), "", nil)
	require.NoError(t, err)

	var got []int
	for _, v := range out {
		got = append(got, v.(int))
	}
	sort.Ints(got)
	assert.Equal(t, []int{2, 4, 6}, got)
}

func TestMapReduceChainAbortsAndUnlinksSpillOnKernelFailure(t *testing.T) {
	p := NewPool(WithWorkers(2))
	defer p.Teardown()

	spillDir := t.TempDir()

	count := func(w any) []any {
		if w.(int) == 7 {
			panic("boom")
		}
		return []any{KeyValue[any, any]{Key: w.(int) % 2, Value: 1}}
	}
	sum := func(e any) []any {
		entry := e.(Entry[any, any])
		total := 0
		for _, v := range entry.Values {
			total += v.(int)
		}
		return []any{total}
	}

	items := make([]any, 10)
	for i := range items {
		items[i] = i
	}
	stages := []ChainStage{
		NewChainStage("count", count),
		NewChainStage("sum", sum),
	}

	out, err := MapReduceChain(context.Background(), p, FromSlice(items), stages, GobCodec[any](), spillDir, nil)
	assert.Nil(t, out)
	assert.Error(t, err)
	var ke *KernelError
	assert.ErrorAs(t, err, &ke)

	entries, readErr := os.ReadDir(spillDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "spill files from the aborted chain must be unlinked")
}

func TestBoxAdaptsConcreteKernel(t *testing.T) {
	kernel := func(v int) []string { return []string{"x"} }
	boxed := Box(kernel)

	out := boxed(5)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0])

	assert.Panics(t, func() { boxed("not an int") })
}
