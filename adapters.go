package mapreduce

// HashedPayload is the wire shape PickleOutAdapter emits for a mapper
// value: a content digest, and the marshaled bytes — or a nil Payload
// if an earlier result from the very same kernel invocation already
// carried byte-identical bytes. That invocation-local check is cheap
// and catches the common case (a mapper emitting the same constant
// value many times for one input item); the stage's DedupTable
// resolves duplicates across the whole stage, not just one invocation.
type HashedPayload struct {
	Hash    Digest
	Payload []byte
}

// PickleOutAdapter wraps a kernel that emits KeyValue[K, V] pairs so
// that values are marshaled before leaving the worker, with an
// invocation-local duplicate value replaced by its digest alone. A
// marshal failure panics (as a SpillIOError), which the worker recovers
// into a KernelError like any other kernel failure.
func PickleOutAdapter[T any, K comparable, V any](kernel KernelFunc[T, KeyValue[K, V]], codec Codec[V]) KernelFunc[T, KeyValue[K, HashedPayload]] {
	return func(item T) []KeyValue[K, HashedPayload] {
		pairs := kernel(item)
		out := make([]KeyValue[K, HashedPayload], 0, len(pairs))
		seen := make(map[Digest]struct{}, len(pairs))

		for _, kv := range pairs {
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
			out = append(out, KeyValue[K, HashedPayload]{Key: kv.Key, Value: hp})
		}
		return out
	}
}

// PickleInAdapter wraps a reducer-shaped kernel so it can run against a
// GroupMap entry whose values are SpillStore offsets, restoring each
// value from store just before the reducer runs. A read or unmarshal
// failure panics, which the worker recovers into a KernelError.
func PickleInAdapter[K comparable, V, U any](store *SpillStore, codec Codec[V], reducer KernelFunc[Entry[K, V], U]) KernelFunc[Entry[K, int64], U] {
	return func(e Entry[K, int64]) []U {
		values := make([]V, len(e.Values))
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
		return reducer(Entry[K, V]{Key: e.Key, Values: values})
	}
}
