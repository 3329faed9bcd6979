package mapreduce

import "fmt"

// indexedItem tags an input item with the pool's bookkeeping index, or
// marks the shared input channel's end-of-map sentinel. The index is
// used only for internal accounting — never for ordering results.
type indexedItem[T any] struct {
	index int
	item  T
	done  bool
}

// workerResult is what a worker puts on the shared output channel: a
// tagged value, a DONE marker acknowledging the worker drained its
// end-of-input sentinel, or a terminal kernel error. A worker sends
// exactly one of {a DONE marker, an error} per MAP dispatch it is given
// — never both, and never neither unless the pool's quit signal
// interrupts the dispatch first.
type workerResult[U any] struct {
	done  bool
	err   error
	index int
	value U
}

// workerCmd is sent on a worker's private command channel: either a
// MAP command carrying the kernel to run, or an EXIT command.
type workerCmd[T, U any] struct {
	exit   bool
	kernel KernelFunc[T, U]
	stage  string
}

// worker executes MAP commands against a shared input channel, emitting
// tagged results to a shared output channel. It obeys the command
// grammar MAP(kernel)/EXIT on its own command channel, and shares the
// input/output channels with every other worker in the pool. quit is a
// pool-wide teardown signal: closing it interrupts a worker blocked
// inside an in-progress mapLoop, even mid-stage, so Pool.Teardown always
// terminates promptly.
type worker[T, U any] struct {
	id   int
	cmds chan workerCmd[T, U]
}

func newWorker[T, U any](id int, input <-chan indexedItem[T], output chan<- workerResult[U], quit <-chan struct{}) *worker[T, U] {
	w := &worker[T, U]{id: id, cmds: make(chan workerCmd[T, U])}
	go w.run(input, output, quit)
	return w
}

func (w *worker[T, U]) run(input <-chan indexedItem[T], output chan<- workerResult[U], quit <-chan struct{}) {
	for cmd := range w.cmds {
		if cmd.exit {
			return
		}
		w.mapLoop(cmd, input, output, quit)
	}
}

// mapLoop consumes (i, item) pairs until it reads the DONE sentinel, at
// which point it emits a single DONE marker and returns to wait on the
// command channel. A kernel panic is fatal: it is reported as a
// workerResult carrying err, and the loop returns without ever emitting
// DONE for this dispatch — the coordinator treats the error as that
// worker's one terminal signal.
func (w *worker[T, U]) mapLoop(cmd workerCmd[T, U], input <-chan indexedItem[T], output chan<- workerResult[U], quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case ii, ok := <-input:
			if !ok {
				return
			}
			if ii.done {
				select {
				case output <- workerResult[U]{done: true}:
				case <-quit:
				}
				return
			}
			if !w.invoke(cmd, ii, output, quit) {
				return
			}
		}
	}
}

// invoke runs the kernel on one item, recovering a panic into a
// KernelError sent as the worker's terminal signal for this dispatch.
// It returns false if the worker should stop processing further items.
func (w *worker[T, U]) invoke(cmd workerCmd[T, U], ii indexedItem[T], output chan<- workerResult[U], quit <-chan struct{}) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			select {
			case output <- workerResult[U]{err: &KernelError{Worker: w.id, Stage: cmd.stage, Cause: asError(r)}}:
			case <-quit:
			}
		}
	}()

	for _, v := range cmd.kernel(ii.item) {
		select {
		case output <- workerResult[U]{index: ii.index, value: v}:
		case <-quit:
			return false
		}
	}
	return true
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
