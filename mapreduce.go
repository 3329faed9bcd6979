package mapreduce

import "context"

// Map runs kernel over in using p, returning every result once in
// completion order (not input order). It is a thin synchronous wrapper
// over ImapUnordered for callers that just want a slice back.
func Map[T, U any](ctx context.Context, p *Pool, in Input[T], kernel KernelFunc[T, U], sink ProgressSink) ([]U, error) {
	return collect(ImapUnordered(ctx, p, in, kernel, sink, StageMap))
}

// MapVoid runs kernel purely for its side effects, discarding any
// return value, over every item in in.
func MapVoid[T any](ctx context.Context, p *Pool, in Input[T], kernel func(item T), sink ProgressSink) error {
	wrapped := func(item T) []struct{} {
		kernel(item)
		return nil
	}
	_, err := Map(ctx, p, in, wrapped, sink)
	return err
}

// Finish runs fns across p and returns the first error any of them
// returns, as a KernelError whose Cause is that error. An error does not
// stop fns that other workers are running or go on to pick up; Finish
// returns once the dispatch has drained.
func Finish(ctx context.Context, p *Pool, fns ...func() error) error {
	kernel := func(fn func() error) []struct{} {
		if err := fn(); err != nil {
			panic(err)
		}
		return nil
	}
	_, err := Map(ctx, p, FromSlice(fns), kernel, nil)
	return err
}

// FinishVoid runs fns concurrently across p. A panicking fn aborts its
// worker, like any other kernel failure, but FinishVoid itself reports
// no error — callers that need to observe failures should use Finish.
func FinishVoid(ctx context.Context, p *Pool, fns ...func()) {
	kernel := func(fn func()) []struct{} {
		fn()
		return nil
	}
	_, _ = Map(ctx, p, FromSlice(fns), kernel, nil)
}

// MapReduce groups mapper's KeyValue outputs by key in memory, then
// calls reducer once per key with every value collected for that key,
// returning reducer's outputs. Map-stage values live entirely in memory
// between the two stages; callers whose intermediate working set is too
// large to hold at once should use MapReduceBig instead.
func MapReduce[T any, K comparable, V, U any](ctx context.Context, p *Pool, in Input[T], mapper KernelFunc[T, KeyValue[K, V]], reducer KernelFunc[Entry[K, V], U], sink ProgressSink) ([]U, error) {
	sink = resolveSink(p, sink)
	length, known := in.Len()
	sink.Progress(StageMapReduce, StepBegin, length, known, 0)
	defer sink.Progress(StageMapReduce, StepEnd, length, known, 0)

	groups := NewGroupMap[K, V]()
	for r := range ImapUnordered(ctx, p, in, mapper, sink, StageMap) {
		if r.Err != nil {
			return nil, r.Err
		}
		groups.Add(r.Value.Key, r.Value.Value)
	}
	return collect(ImapUnordered(ctx, p, FromSlice(groups.Entries()), reducer, sink, StageReduce))
}

// MapReduceBig behaves like MapReduce, but spills every map-stage value
// to a SpillStore instead of holding it in memory between stages: the
// GroupMap built between stages accumulates spill offsets rather than
// values, and a stage-scoped dedup table collapses byte-identical
// values to a single stored copy. The store is discarded once the
// reduce stage has consumed every offset, so memory use between stages
// is bounded by the (key -> offsets) index, not by the values
// themselves.
func MapReduceBig[T any, K comparable, V, U any](ctx context.Context, p *Pool, in Input[T], mapper KernelFunc[T, KeyValue[K, V]], reducer KernelFunc[Entry[K, V], U], codec Codec[V], spillDir string, sink ProgressSink) ([]U, error) {
	if spillDir == "" {
		spillDir = p.opts.spillDir
	}
	sink = resolveSink(p, sink)
	store, err := NewSpillStore(spillDir)
	if err != nil {
		return nil, err
	}
	defer store.Discard()

	length, known := in.Len()
	sink.Progress(StageMapReduce, StepBegin, length, known, 0)
	defer sink.Progress(StageMapReduce, StepEnd, length, known, 0)

	dedup := newDedupTable()
	hashed := PickleOutAdapter(mapper, codec)

	groups := NewGroupMap[K, int64]()
	for r := range ImapUnordered(ctx, p, in, hashed, sink, StageMap) {
		if r.Err != nil {
			return nil, r.Err
		}
		offset, err := resolveHashedPayload(dedup, store, r.Value.Value)
		if err != nil {
			return nil, err
		}
		groups.Add(r.Value.Key, offset)
	}

	restoring := PickleInAdapter(store, codec, reducer)
	return collect(ImapUnordered(ctx, p, FromSlice(groups.Entries()), restoring, sink, StageReduce))
}

// resolveSink applies the same fallback order every umbrella entry point
// uses: the caller's sink, then the Pool's default, then NopSink.
func resolveSink(p *Pool, sink ProgressSink) ProgressSink {
	if sink == nil {
		sink = p.opts.sink
	}
	if sink == nil {
		sink = NopSink{}
	}
	return sink
}

func resolveHashedPayload(dedup *dedupTable, store *SpillStore, hp HashedPayload) (int64, error) {
	if hp.Payload == nil {
		if off, ok := dedup.lookup(hp.Hash); ok {
			return off, nil
		}
		return 0, &ProtocolError{Detail: "duplicate-marked payload observed before its first occurrence"}
	}
	return dedup.resolve(store, hp.Hash, hp.Payload)
}

// collect drains every Result from ch into a slice, returning the first
// error encountered in place of any results: a stage that fails
// surfaces no partial output.
func collect[U any](ch <-chan Result[U]) ([]U, error) {
	var out []U
	for r := range ch {
		if r.Err != nil {
			return nil, r.Err
		}
		out = append(out, r.Value)
	}
	return out, nil
}
