package mapreduce

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ChainStage is one step of a MapReduceChain. Kernel operates on
// `any`-boxed items: for the first stage, item is whatever element type
// the chain's input produces; for every later stage, item is an
// Entry[any, any] holding one key and the values MapReduceChain
// collected for it from the previous stage. Every stage but the last
// must itself return []any holding KeyValue[any, any] values, so
// MapReduceChain can group them for the next stage; the last stage may
// return any caller-facing value.
//
// Use Box to adapt an existing concretely-typed KernelFunc, so long as
// its U already matches what the stage's position requires
// (KeyValue[any, any] for every stage but the last).
type ChainStage struct {
	ID     string
	Name   string
	Kernel func(item any) []any
}

// NewChainStage names and assigns an identity to kernel. The ID is a
// fresh UUID, useful as a correlation tag in logs when the same stage
// name recurs across multiple chain runs.
func NewChainStage(name string, kernel func(item any) []any) ChainStage {
	return ChainStage{ID: uuid.NewString(), Name: name, Kernel: kernel}
}

// Box adapts a concretely-typed kernel into the `any`-boxed shape
// ChainStage.Kernel uses. A mismatch between item's dynamic type and T
// at call time panics, which the worker running it recovers into a
// KernelError like any other kernel failure.
func Box[T, U any](kernel KernelFunc[T, U]) func(item any) []any {
	return func(item any) []any {
		results := kernel(item.(T))
		boxed := make([]any, len(results))
		for i, v := range results {
			boxed[i] = v
		}
		return boxed
	}
}

// MapReduceChain runs a sequence of stages end to end, feeding each
// stage's grouped-by-key output to the next. Intermediate output is
// always spilled to a SpillStore rather than held in memory: at most
// two stores are alive at once (the one the current stage is writing,
// and the one it is reading from), and the older one is discarded as
// soon as the current stage has consumed every offset in it.
//
// A kernel failure at any stage aborts the whole chain; no partial
// output from that or later stages is returned.
//
// codec marshals the `any`-boxed values passed between stages. The
// default GobCodec[any]() requires every concrete type that flows
// through it to be registered with gob.Register first.
func MapReduceChain(ctx context.Context, p *Pool, in Input[any], stages []ChainStage, codec Codec[any], spillDir string, sink ProgressSink) ([]any, error) {
	if len(stages) == 0 {
		return nil, &ProtocolError{Detail: "map-reduce chain has no stages"}
	}
	if spillDir == "" {
		spillDir = p.opts.spillDir
	}
	if sink == nil {
		sink = p.opts.sink
	}

	var prevStore *SpillStore
	current := in

	for i, stage := range stages {
		isLast := i == len(stages)-1
		stageTag := Stage(fmt.Sprintf("chain:%s", stage.Name))

		kernel := stage.Kernel
		if i != 0 {
			kernel = unpickleEntry(prevStore, codec, kernel)
		}

		var nextStore *SpillStore
		var dedup *dedupTable
		if !isLast {
			var err error
			nextStore, err = NewSpillStore(spillDir)
			if err != nil {
				if prevStore != nil {
					prevStore.Discard()
				}
				return nil, err
			}
			dedup = newDedupTable()
			kernel = picklePairs(codec, kernel)
		}

		results := imapUnorderedTagged(ctx, p, current, kernel, sink, stageTag, stage.ID)

		if isLast {
			out, err := collect(results)
			if prevStore != nil {
				prevStore.Discard()
			}
			return out, err
		}

		groups := NewGroupMap[any, int64]()
		for r := range results {
			if r.Err != nil {
				nextStore.Discard()
				if prevStore != nil {
					prevStore.Discard()
				}
				return nil, r.Err
			}
			kv := r.Value.(KeyValue[any, HashedPayload])
			offset, err := resolveHashedPayload(dedup, nextStore, kv.Value)
			if err != nil {
				nextStore.Discard()
				if prevStore != nil {
					prevStore.Discard()
				}
				return nil, err
			}
			groups.Add(kv.Key, offset)
		}

		if prevStore != nil {
			prevStore.Discard()
		}
		prevStore = nextStore

		entries := make([]any, 0, groups.Len())
		for _, e := range groups.Entries() {
			entries = append(entries, Entry[any, int64]{Key: e.Key, Values: e.Values})
		}
		current = FromSlice(entries)
	}

	// Every loop iteration either continues to the next stage or returns
	// directly from the isLast branch, so this is never reached.
	return nil, &ProtocolError{Detail: "map-reduce chain loop exited without a last stage"}
}

// picklePairs wraps a stage kernel whose output is []any holding
// KeyValue[any, any], marshaling each value and marking invocation-local
// duplicates the same way PickleOutAdapter does for concretely-typed
// kernels.
func picklePairs(codec Codec[any], kernel func(any) []any) func(any) []any {
	return func(item any) []any {
		raw := kernel(item)
		out := make([]any, 0, len(raw))
		seen := make(map[Digest]struct{}, len(raw))
		for _, r := range raw {
			kv := r.(KeyValue[any, any])
			p, err := codec.Marshal(kv.Value)
			if err != nil {
				panic(&SpillIOError{Op: "marshal", Cause: err})
			}
			h := sumDigest(p)

			hp := HashedPayload{Hash: h}
			if _, dup := seen[h]; !dup {
				hp.Payload = p
				seen[h] = struct{}{}
			}
			out = append(out, KeyValue[any, HashedPayload]{Key: kv.Key, Value: hp})
		}
		return out
	}
}

// unpickleEntry restores values from store before handing an
// Entry[any, any] to kernel, translating from the Entry[any, int64] a
// chain stage's grouped offsets arrive as.
func unpickleEntry(store *SpillStore, codec Codec[any], kernel func(any) []any) func(any) []any {
	return func(item any) []any {
		e := item.(Entry[any, int64])
		values := make([]any, len(e.Values))
		for i, offset := range e.Values {
			p, err := store.Read(offset)
			if err != nil {
				panic(err)
			}
			v, err := codec.Unmarshal(p)
			if err != nil {
				panic(&SpillIOError{Op: "unmarshal", Path: store.Path(), Cause: err})
			}
			values[i] = v
		}
		return kernel(Entry[any, any]{Key: e.Key, Values: values})
	}
}
