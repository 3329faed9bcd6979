package mapreduce

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"sync"
)

// MinTasksForParallel is the smallest known input length that still
// takes the parallel path. Below this, and with a known length, the
// in-caller path avoids the overhead of crossing into worker goroutines
// for work that would finish before they could even be dispatched.
const MinTasksForParallel = 3

const outputSlack = 2

type options struct {
	ctx      context.Context
	workers  int
	debug    bool
	logger   *Logger
	spillDir string
	sink     ProgressSink
}

// Option configures a Pool.
type Option func(*options)

// WithContext sets the context a dispatch uses when its caller passes a
// nil ctx. Once that context is cancelled, the stage hands no further
// input items to its kernel; items already handed to workers still run,
// and the stage then ends with the context's error. Reclaiming the
// workers themselves requires Pool.Teardown.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithWorkers sets the pool's worker count, overriding NWORKERS and the
// runtime.NumCPU default. Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithDebug forces the in-caller execution path regardless of worker
// count or input length, overriding the DEBUG environment variable.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// WithSpillDir sets the default directory MapReduceBig and
// MapReduceChain create their SpillStore temp files in, for call sites
// that pass the empty string. It has no effect on a call site that
// supplies its own non-empty spillDir.
func WithSpillDir(dir string) Option {
	return func(o *options) { o.spillDir = dir }
}

// WithProgressSink sets the default ProgressSink for call sites that
// pass nil. It has no effect on a call site that supplies its own sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(o *options) { o.sink = sink }
}

func defaultWorkers() int {
	if v := os.Getenv("NWORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func defaultDebug() bool {
	n, _ := strconv.Atoi(os.Getenv("DEBUG"))
	return n != 0
}

func newOptions(opts ...Option) *options {
	o := &options{
		ctx:     context.Background(),
		workers: defaultWorkers(),
		debug:   defaultDebug(),
		logger:  NewLogger(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	return o
}

// Pool is a reusable set of worker goroutines, shared across every
// stage run against it. Workers are created lazily, on the first
// parallel-path dispatch, and persist until Teardown: a stage that
// completes (with or without error) leaves every worker idle and ready
// for the next MAP command, so one Pool can drive an entire
// MapReduceChain without re-paying goroutine startup cost per stage.
//
// A job that aborts mid-stage (a kernel panic) still leaves the pool
// reusable: the worker that panicked returns to idle immediately, and
// the coordinator keeps draining the shared output channel until every
// worker has reported exactly one terminal signal for that dispatch, so
// survivors also return to idle rather than being abandoned mid-MAP.
type Pool struct {
	mu      sync.Mutex
	opts    *options
	workers []*worker[any, any]
	input   chan indexedItem[any]
	output  chan workerResult[any]
	quit    *DoneChan
}

// NewPool returns a Pool configured by opts. No worker goroutines are
// started until the first parallel-path dispatch.
func NewPool(opts ...Option) *Pool {
	return &Pool{opts: newOptions(opts...), quit: NewDoneChan()}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.opts.workers }

// ensureWorkers returns the pool's live worker set, creating it on first
// use, along with the quit signal that generation of workers watches —
// callers driving a stage against these workers must watch the same
// signal, so a Teardown racing with an in-flight stage unsticks every
// goroutine involved, not just the workers themselves.
func (p *Pool) ensureWorkers() ([]*worker[any, any], <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == p.opts.workers {
		return p.workers, p.quit.Done()
	}

	n := p.opts.workers
	p.input = make(chan indexedItem[any], n)
	p.output = make(chan workerResult[any], n*outputSlack)
	p.workers = make([]*worker[any, any], n)
	quit := p.quit.Done()
	for i := 0; i < n; i++ {
		p.workers[i] = newWorker[any, any](i, p.input, p.output, quit)
	}
	return p.workers, quit
}

// Teardown sends EXIT to every live worker and releases the pool's
// channels. It is safe to call on a pool with no live workers. After
// Teardown, the next dispatch against this Pool starts a fresh set of
// workers.
func (p *Pool) Teardown() {
	p.mu.Lock()
	workers := p.workers
	quit := p.quit
	p.workers = nil
	p.quit = NewDoneChan()
	p.mu.Unlock()

	if len(workers) == 0 {
		return
	}
	// Unsticks any worker still blocked inside mapLoop from a stage that
	// aborted before every DONE/err was accounted for.
	quit.Close()
	for _, w := range workers {
		w.cmds <- workerCmd[any, any]{exit: true}
		close(w.cmds)
	}
}

// ImapUnordered runs kernel over every item in in, using p, and streams
// results back in completion order (not input order). The parallel path
// is taken when p has more than one worker, debug is not forced, and
// either the input's length is unknown or at least MinTasksForParallel
// items are expected; otherwise kernel runs in the calling goroutine's
// own loop.
//
// The returned channel yields one Result per kernel output, followed —
// if and only if the stage aborted — by exactly one Result carrying
// Err, then closes. sink, if non-nil, receives Begin/Step/End
// notifications for stage.
func ImapUnordered[T, U any](ctx context.Context, p *Pool, in Input[T], kernel KernelFunc[T, U], sink ProgressSink, stage Stage) <-chan Result[U] {
	return imapUnorderedTagged(ctx, p, in, kernel, sink, stage, "")
}

// imapUnorderedTagged is ImapUnordered plus a stageID correlation tag for
// structured logging, used by MapReduceChain so a stage's log lines carry
// its ChainStage.ID; every other caller goes through ImapUnordered, which
// passes the empty tag (omitted from the log event).
func imapUnorderedTagged[T, U any](ctx context.Context, p *Pool, in Input[T], kernel KernelFunc[T, U], sink ProgressSink, stage Stage, stageID string) <-chan Result[U] {
	if sink == nil {
		sink = NopSink{}
	}
	if ctx == nil {
		ctx = p.opts.ctx
	}
	length, known := in.Len()
	parallel := p.opts.workers > 1 && !p.opts.debug && (!known || length >= MinTasksForParallel)

	out := make(chan Result[U])
	go func() {
		defer close(out)
		sink.Progress(stage, StepBegin, length, known, 0)
		logStageBegin(p.opts.logger, stage, length, known, stageID)

		var err error
		if parallel {
			err = runParallel(ctx, p, in, kernel, sink, stage, out)
		} else {
			err = runInCaller(ctx, in, kernel, sink, stage, out, length, known)
		}

		sink.Progress(stage, StepEnd, length, known, 0)
		logStageEnd(p.opts.logger, stage, err, stageID)
		if err != nil {
			out <- Result[U]{Err: err}
		}
	}()
	return out
}

// runParallel dispatches kernel to every worker and feeds in's items
// across the shared input channel. The feeder goroutine and this
// coordinator loop run concurrently, so a context cancellation observed
// by the feeder is recorded through cancelErr (an AtomicError) rather
// than a plain variable — both goroutines may touch it, the feeder on
// cancellation, the coordinator when reading it back after the dispatch
// drains.
func runParallel[T, U any](ctx context.Context, p *Pool, in Input[T], kernel KernelFunc[T, U], sink ProgressSink, stage Stage, out chan<- Result[U]) error {
	workers, quit := p.ensureWorkers()
	n := len(workers)
	length, known := in.Len()
	output := p.output

	anyKernel := func(item any) []any {
		results := kernel(item.(T))
		boxed := make([]any, len(results))
		for i, v := range results {
			boxed[i] = v
		}
		return boxed
	}
	for _, w := range workers {
		w.cmds <- workerCmd[any, any]{kernel: anyKernel, stage: string(stage)}
	}

	var cancelErr AtomicError
	source := buildSource(in)
	go func() {
		i := 0
		aborted := false
		tornDown := false
		for item := range source {
			if aborted {
				// A generator goroutine never selects on quit or ctx.Done()
				// itself (FromSlice/FromGenerator just push); draining it
				// here, rather than returning immediately, is what lets that
				// goroutine observe source's reader going away and finish.
				continue
			}
			select {
			case p.input <- indexedItem[any]{index: i, item: item}:
				i++
			case <-ctx.Done():
				cancelErr.Set(ctx.Err())
				aborted = true
			case <-quit:
				aborted = true
				tornDown = true
			}
		}
		if tornDown {
			return
		}
		// Even after a cancellation, every worker still gets its DONE
		// sentinel, so the dispatch drains and the coordinator can report
		// cancelErr.
		for k := 0; k < n; k++ {
			select {
			case p.input <- indexedItem[any]{done: true}:
			case <-quit:
				return
			}
		}
	}()

	// The coordinator also watches quit: a worker unstuck by Teardown
	// mid-mapLoop returns without ever emitting its terminal DONE/err
	// signal, so waiting for exactly n completions would otherwise block
	// forever on an output channel nothing will write to again.
	completions := 0
	var firstErr error
	for completions < n {
		select {
		case r := <-output:
			switch {
			case r.done:
				completions++
				sink.Progress(stage, StepStep, length, known, completions)
			case r.err != nil:
				completions++
				if firstErr == nil {
					firstErr = r.err
				}
			default:
				if firstErr == nil {
					select {
					case out <- Result[U]{Index: r.index, Value: r.value.(U)}:
					case <-quit:
						return ErrPoolTornDown
					}
				}
			}
		case <-quit:
			if firstErr == nil {
				firstErr = ErrPoolTornDown
			}
			return firstErr
		}
	}
	if firstErr == nil {
		firstErr = cancelErr.Load()
	}
	return firstErr
}

func runInCaller[T, U any](ctx context.Context, in Input[T], kernel KernelFunc[T, U], sink ProgressSink, stage Stage, out chan<- Result[U], length int, known bool) error {
	source := buildSource(in)
	i := 0
	var stageErr error
	for item := range source {
		if stageErr != nil {
			// Keep draining so the generator goroutine, which has no way
			// to observe the caller giving up, still runs to completion.
			continue
		}
		if err := ctx.Err(); err != nil {
			stageErr = err
			continue
		}
		results, err := safeInvoke(kernel, item, stage)
		if err != nil {
			stageErr = err
			continue
		}
		for _, v := range results {
			out <- Result[U]{Index: i, Value: v}
		}
		i++
		sink.Progress(stage, StepStep, length, known, i)
	}
	return stageErr
}

// safeInvoke runs kernel on item, recovering a panic into a KernelError
// tagged with worker index -1, meaning "the caller's own goroutine".
func safeInvoke[T, U any](kernel KernelFunc[T, U], item T, stage Stage) (results []U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &KernelError{Worker: -1, Stage: string(stage), Cause: asError(r)}
		}
	}()
	results = kernel(item)
	return
}
