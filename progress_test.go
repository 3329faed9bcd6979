package mapreduce

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNopSinkDiscardsEverything(t *testing.T) {
	var sink NopSink
	// Must not panic regardless of arguments.
	sink.Progress(StageMap, StepBegin, 10, true, 0)
	sink.Progress(StageMap, StepStep, 10, true, 1)
	sink.Progress(StageMap, StepEnd, 10, true, 10)
}

func TestDotsSinkEmitsOneDotPerStep(t *testing.T) {
	var buf bytes.Buffer
	sink := NewDotsSink(&buf)

	sink.Progress(StageMap, StepBegin, 0, false, 0)
	sink.Progress(StageMap, StepStep, 0, false, 1)
	sink.Progress(StageMap, StepStep, 0, false, 2)
	sink.Progress(StageMap, StepEnd, 0, false, 2)

	assert.Equal(t, "[map: ..]", buf.String())
}

func TestPercentSinkTicksAtFivePercent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewPercentSink(&buf)

	sink.Progress(StageMap, StepBegin, 20, true, 0)
	for i := 1; i <= 20; i++ {
		sink.Progress(StageMap, StepStep, 20, true, i)
	}
	sink.Progress(StageMap, StepEnd, 20, true, 20)

	out := buf.String()
	assert.Contains(t, out, "[m (20 elem): ")
	assert.Contains(t, out, "]")
	// 20 steps over a 20-length stage ticks every 5%, i.e. every step:
	// 20 ticks, plus the one ':' in the "[m (20 elem): " header.
	assert.Equal(t, 21, bytesCount(out, ':'))
}

func TestAutoSinkPicksPercentWhenLengthKnown(t *testing.T) {
	var buf bytes.Buffer
	sink := NewAutoSink(&buf)

	sink.Progress(StageMap, StepBegin, 4, true, 0)
	sink.Progress(StageMap, StepStep, 4, true, 1)
	sink.Progress(StageMap, StepEnd, 4, true, 4)

	assert.Contains(t, buf.String(), "elem")
}

func TestAutoSinkPicksDotsWhenLengthUnknown(t *testing.T) {
	var buf bytes.Buffer
	sink := NewAutoSink(&buf)

	sink.Progress(StageMap, StepBegin, 0, false, 0)
	sink.Progress(StageMap, StepStep, 0, false, 1)
	sink.Progress(StageMap, StepEnd, 0, false, 1)

	assert.Equal(t, "[map: .]", buf.String())
}

func bytesCount(s string, b byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			n++
		}
	}
	return n
}
