package trigger

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// ErrDisposed is returned by every public entry point once Dispose has run.
var ErrDisposed = errors.New("queuetrigger: listener disposed")

// Listener assembles the backoff, delay, renewer, dispatcher, poll loop, and
// scale monitor into a single runnable unit. A Listener is not reentrant: a
// supervisor owns a single Start/Stop pair per queue.
type Listener struct {
	options   Options
	queue     QueueClient
	processor MessageProcessor
	handler   Handler
	logger    Logger
	onError   UnhandledExceptionHandler

	poll  *pollLoop
	scale *scaleMonitor

	pollCtx    context.Context
	pollCancel context.CancelFunc

	completionCtx    context.Context
	completionCancel context.CancelFunc

	loopWg   sync.WaitGroup
	disposed atomic.Bool
}

// New constructs a Listener. The queue, processor, and handler are the
// external collaborators it was constructed with; nothing here reaches past
// their interfaces.
func New(options Options, queue QueueClient, processor MessageProcessor, handler Handler, logger Logger, onError UnhandledExceptionHandler) *Listener {
	pollCtx, pollCancel := context.WithCancel(context.Background())
	completionCtx, completionCancel := context.WithCancel(context.Background())

	l := &Listener{
		options:          options,
		queue:            queue,
		processor:        processor,
		handler:          handler,
		logger:           logger,
		onError:          onError,
		pollCtx:          pollCtx,
		pollCancel:       pollCancel,
		completionCtx:    completionCtx,
		completionCancel: completionCancel,
	}
	l.poll = newPollLoop(queue, processor, handler, logger, options, onError)
	l.scale = newScaleMonitor(queue, logger, options.NumberOfSamplesToConsider)
	return l
}

// Start launches the poll loop. The first poll happens immediately; callers
// are responsible for calling Start at most once.
func (l *Listener) Start() error {
	if l.disposed.Load() {
		return ErrDisposed
	}
	l.loopWg.Add(1)
	go func() {
		defer l.loopWg.Done()
		l.poll.run(l.pollCtx, l.completionCtx)
	}()
	return nil
}

// Notify short-circuits the current backoff wait, e.g. when a shared
// watcher observes another component enqueue a message to this queue.
func (l *Listener) Notify() error {
	if l.disposed.Load() {
		return ErrDisposed
	}
	l.poll.Notify()
	return nil
}

// Cancel requests the poll loop exit its current wait and stop, without
// awaiting in-flight dispatchers.
func (l *Listener) Cancel() error {
	if l.disposed.Load() {
		return ErrDisposed
	}
	l.pollCancel()
	return nil
}

// Stop cancels the poll scope, awaits all in-flight dispatcher tasks to
// their natural completion (so finalization I/O can finish), then awaits the
// poll loop itself. If externalCancel fires before Stop's internal wait
// completes, the graceful-completion scope is also cancelled, aborting any
// still-running Complete calls.
func (l *Listener) Stop(externalCancel context.Context) error {
	if l.disposed.Load() {
		return ErrDisposed
	}

	l.pollCancel()

	stopped := make(chan struct{})
	go func() {
		l.loopWg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-externalCancel.Done():
		l.completionCancel()
		<-stopped
	}
	return nil
}

// Dispose tears down cancellation scopes. Subsequent public calls fail with
// ErrDisposed.
func (l *Listener) Dispose() error {
	if !l.disposed.CompareAndSwap(false, true) {
		return nil
	}
	l.pollCancel()
	l.completionCancel()
	return nil
}

// GetMetrics samples the queue once, for use by an external autoscaler.
func (l *Listener) GetMetrics(ctx context.Context) (QueueMetric, error) {
	if l.disposed.Load() {
		return QueueMetric{}, ErrDisposed
	}
	return l.scale.GetMetrics(ctx)
}

// GetScaleStatus evaluates the current sample window against workerCount.
func (l *Listener) GetScaleStatus(workerCount int) (ScaleVote, error) {
	if l.disposed.Load() {
		return ScaleNone, ErrDisposed
	}
	return GetScaleStatus(workerCount, l.scale.snapshot(), l.scale.windowSize), nil
}

// Descriptor returns the lowercase "<function_id>-queuetrigger-<queue_name>"
// identifier used to scope cross-listener notify.
func (l *Listener) Descriptor() string {
	return l.options.Descriptor()
}

// InFlightCount exposes the current in-flight dispatcher count, mainly for
// tests asserting this bound.
func (l *Listener) InFlightCount() int {
	return l.poll.inFlightCount()
}

// Err reports the non-transient storage error that stopped the poll loop, if
// any. A non-nil Err means the listener has faulted and stopped polling on
// its own; restarting it is the host supervisor's responsibility, typically
// by calling Dispose and constructing a fresh Listener.
func (l *Listener) Err() error {
	return l.poll.Err()
}
