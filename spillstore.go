package mapreduce

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/google/uuid"
)

// spillFilePrefix marks a temp file as belonging to this engine's
// intermediate-value store.
const spillFilePrefix = "mapresults-"
const spillFileSuffix = ".spill"

// SpillStore is a per-stage, append-only byte log backed by a temporary
// file. Values are framed with a 4-byte big-endian length prefix, which
// is what makes every record self-delimited: a reader at a known offset
// reads the prefix, then reads exactly that many following bytes,
// without needing any external index. Offsets returned by Append never
// move and remain valid for the store's lifetime.
//
// Append is safe to call from a single writer goroutine at a time (the
// coordinator, by construction). Read is safe for concurrent use by any
// number of goroutines, including concurrently with Append, because it
// is implemented with ReadAt against offsets the caller already knows
// were fully written.
type SpillStore struct {
	mu   sync.Mutex
	file *os.File
	tail int64
}

// NewSpillStore creates a new SpillStore backed by a temp file in dir
// (the empty string uses the default temp directory).
func NewSpillStore(dir string) (*SpillStore, error) {
	f, err := os.CreateTemp(dir, spillFilePrefix+uuid.NewString()+"-*"+spillFileSuffix)
	if err != nil {
		return nil, &SpillIOError{Op: "create", Path: dir, Cause: err}
	}
	return &SpillStore{file: f}, nil
}

// Path returns the backing file's path, for diagnostics.
func (s *SpillStore) Path() string {
	return s.file.Name()
}

// Append writes p as a new record and returns the offset at which it
// was written (the pre-write tail).
func (s *SpillStore) Append(p []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.tail
	frame := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(p)))
	copy(frame[4:], p)

	n, err := s.file.WriteAt(frame, offset)
	if err != nil {
		return 0, &SpillIOError{Op: "append", Path: s.file.Name(), Cause: err}
	}
	s.tail += int64(n)
	return offset, nil
}

// Read returns the bytes written at offset by a prior Append.
func (s *SpillStore) Read(offset int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := s.file.ReadAt(lenBuf[:], offset); err != nil {
		return nil, &SpillIOError{Op: "read", Path: s.file.Name(), Cause: err}
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	p := make([]byte, n)
	if n > 0 {
		if _, err := s.file.ReadAt(p, offset+4); err != nil {
			return nil, &SpillIOError{Op: "read", Path: s.file.Name(), Cause: err}
		}
	}
	return p, nil
}

// Close flushes and seals the store without removing the backing file.
func (s *SpillStore) Close() error {
	return s.file.Close()
}

// Discard truncates the backing file to zero and unlinks it, reclaiming
// disk space immediately even if another process still holds the fd
// open. Safe to call after Close.
func (s *SpillStore) Discard() error {
	s.mu.Lock()
	path := s.file.Name()
	_ = s.file.Truncate(0)
	closeErr := s.file.Close()
	s.mu.Unlock()

	removeErr := os.Remove(path)
	if closeErr != nil {
		return &SpillIOError{Op: "discard", Path: path, Cause: closeErr}
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return &SpillIOError{Op: "discard", Path: path, Cause: removeErr}
	}
	return nil
}
