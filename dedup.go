package mapreduce

import "sync"

// dedupTable maps a content digest to the offset in the current stage's
// SpillStore that already holds the corresponding bytes. It is
// per-stage: digests from earlier stages do not leak forward, since
// offsets are only meaningful within the store that produced them.
type dedupTable struct {
	mu      sync.Mutex
	offsets map[Digest]int64
}

func newDedupTable() *dedupTable {
	return &dedupTable{offsets: make(map[Digest]int64)}
}

// lookup returns the offset previously recorded for h, if any.
func (d *dedupTable) lookup(h Digest) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off, ok := d.offsets[h]
	return off, ok
}

// record associates h with offset. Only the first recorded offset for a
// given digest is kept; later callers must lookup before recording.
func (d *dedupTable) record(h Digest, offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.offsets[h]; !ok {
		d.offsets[h] = offset
	}
}

// resolve appends p to store unless h is already known, in which case
// the existing offset is reused: if h is recorded, reuse its offset;
// otherwise append the payload and record the new offset.
func (d *dedupTable) resolve(store *SpillStore, h Digest, p []byte) (int64, error) {
	if off, ok := d.lookup(h); ok {
		return off, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if off, ok := d.offsets[h]; ok {
		return off, nil
	}

	off, err := store.Append(p)
	if err != nil {
		return 0, err
	}
	d.offsets[h] = off
	return off, nil
}
