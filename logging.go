package mapreduce

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger every Pool and MapReduceChain call
// writes lifecycle and error events to. It defaults to an Info-level
// stumpy logger on os.Stderr; pass WithLogger to replace it (a
// logiface.Logger[*stumpy.Event] built with different stumpy.Options,
// or pointed at a different io.Writer).
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger returns the default Logger: stumpy-backed JSON lines on w,
// at logiface.LevelInformational and above. A nil w defaults to
// os.Stderr.
func NewLogger(w *os.File) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(logiface.LevelInformational),
	)
}

// WithLogger replaces the Pool's logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) { o.logger = logger }
}

// stageID, when non-empty, tags the event with the originating
// ChainStage.ID, so a stage name recurring across chain runs (or across
// stages sharing a name) can still be correlated back to one dispatch.
func logStageBegin(logger *Logger, stage Stage, length int, known bool, stageID string) {
	if logger == nil {
		return
	}
	evt := logger.Info().Str("stage", string(stage))
	if known {
		evt = evt.Int("length", length)
	}
	if stageID != "" {
		evt = evt.Str("stage_id", stageID)
	}
	evt.Log("stage begin")
}

func logStageEnd(logger *Logger, stage Stage, err error, stageID string) {
	if logger == nil {
		return
	}
	if err != nil {
		evt := logger.Err().Str("stage", string(stage))
		if stageID != "" {
			evt = evt.Str("stage_id", stageID)
		}
		evt.Err(err).Log("stage aborted")
		return
	}
	evt := logger.Info().Str("stage", string(stage))
	if stageID != "" {
		evt = evt.Str("stage_id", stageID)
	}
	evt.Log("stage end")
}
