package mapreduce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKernelErrorUnwrapAndIndex(t *testing.T) {
	cause := errors.New("boom")
	err := &KernelError{Worker: 3, Stage: "map", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "worker 3")
	assert.Contains(t, err.Error(), "map")

	idx, ok := WorkerIndex(err)
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestWorkerCrashErrorUnwrapAndIndex(t *testing.T) {
	cause := errors.New("crash")
	err := &WorkerCrashError{Worker: 1, Cause: cause}

	assert.ErrorIs(t, err, cause)
	idx, ok := WorkerIndex(err)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestWorkerIndexUnrelatedError(t *testing.T) {
	_, ok := WorkerIndex(errors.New("plain"))
	assert.False(t, ok)
}

func TestSpillIOErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &SpillIOError{Op: "append", Path: "/tmp/x", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append")
	assert.Contains(t, err.Error(), "/tmp/x")
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Detail: "too many DONE markers"}
	assert.Contains(t, err.Error(), "too many DONE markers")
}
