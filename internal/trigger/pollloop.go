package trigger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// existenceState is the tri-state cache from the data model: any storage
// error resets it to unknown so the next cycle re-probes.
type existenceState int32

const (
	existenceUnknown existenceState = iota
	existenceExists
	existenceMissing
)

// pollLoop is the single logical driver that repeatedly probes
// existence, fetches a batch, fans it out to dispatchers, and decides its
// next wait.
type pollLoop struct {
	queue     QueueClient
	processor MessageProcessor
	handler   Handler
	logger    Logger
	options   Options
	onError   UnhandledExceptionHandler

	backoff *RandomizedExponentialBackoff
	delay   *notifiableDelay

	existence atomic.Int32

	mu       sync.Mutex // guards inFlight; see invariant below
	inFlight map[string]context.CancelFunc

	wg sync.WaitGroup // dispatcher goroutines

	doneCh chan struct{}
	fault  atomic.Error
}

func newPollLoop(queue QueueClient, processor MessageProcessor, handler Handler, logger Logger, options Options, onError UnhandledExceptionHandler) *pollLoop {
	maxInterval := processor.MaxPollingInterval()
	if maxInterval < options.MinPollingInterval {
		maxInterval = options.MinPollingInterval
	}
	return &pollLoop{
		queue:     queue,
		processor: processor,
		handler:   handler,
		logger:    logger,
		options:   options,
		onError:   onError,
		backoff:   NewRandomizedExponentialBackoff(options.MinPollingInterval, maxInterval),
		delay:     newNotifiableDelay(),
		inFlight:  make(map[string]context.CancelFunc),
		doneCh:    make(chan struct{}),
	}
}

// Notify short-circuits any active backoff wait.
func (p *pollLoop) Notify() {
	p.delay.Notify()
}

// inFlightCount is safe to call from any goroutine: the map it reads is
// added to by the poll goroutine and removed from by each dispatcher
// goroutine, all under mu.
func (p *pollLoop) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// run drives the loop until pollCtx is cancelled or pollOnce reports a fatal
// storage error, then waits for all dispatched tasks (using completionCtx for
// their finalization calls) before returning. A fatal error is recorded on
// the loop and retrievable via Err; the listener does not restart itself —
// a host supervisor observing Err is responsible for that.
func (p *pollLoop) run(pollCtx, completionCtx context.Context) {
	defer close(p.doneCh)

	for {
		if pollCtx.Err() != nil {
			break
		}

		p.delay.Arm()

		succeeded, err := p.pollOnce(pollCtx, completionCtx)
		if err != nil {
			p.fault.Store(err)
			break
		}

		if pollCtx.Err() != nil {
			break
		}

		if succeeded {
			p.backoff.Next(true)
			p.waitForThreshold(pollCtx)
		} else {
			d := p.backoff.Next(false)
			p.delay.Wait(pollCtx, d)
		}
	}

	p.wg.Wait()
}

// Err returns the fatal storage error that stopped the loop, if any.
func (p *pollLoop) Err() error {
	return p.fault.Load()
}

// pollOnce probes existence, fetches a batch, and fans it out. The bool
// return reports whether at least one message was found (the "succeeded"
// flag that governs the next wait); a non-nil error means a non-transient
// storage error was hit and the loop must stop.
func (p *pollLoop) pollOnce(pollCtx, completionCtx context.Context) (bool, error) {
	if existenceState(p.existence.Load()) != existenceExists {
		exists, err := p.queue.Exists(pollCtx)
		if err != nil {
			p.existence.Store(int32(existenceUnknown))
			p.logger.Warnf(pollCtx, "queue existence probe failed: %v", err)
			return false, nil
		}
		if !exists {
			p.existence.Store(int32(existenceMissing))
			return false, nil
		}
		p.existence.Store(int32(existenceExists))
	}

	batch, err := p.fetchBatch(pollCtx)
	if err != nil {
		p.existence.Store(int32(existenceUnknown))
		if p.queue.IsTaskCancelled(err) || pollCtx.Err() != nil {
			// A cancelled poll scope is a clean shutdown signal, not a
			// storage fault: run's own pollCtx.Err() check will exit the
			// loop without recording anything on Err.
			return false, nil
		}
		if p.isTransientStorageError(err) {
			p.logger.Warnf(pollCtx, "transient storage error during poll: %v", err)
			return false, nil
		}
		// Storage-other: fatal to the listener. Surface loudly and
		// stop the loop entirely rather than keep backing off forever.
		p.logger.Errorf(pollCtx, "fatal storage error during poll, listener will stop polling: %v", err)
		return false, err
	}

	found := false
	for _, msg := range batch {
		if msg == nil {
			continue
		}
		found = true
		p.spawn(pollCtx, completionCtx, msg)
	}
	return found, nil
}

// fetchBatch guards GetMessages with a wall-clock timeout that only reports
// a diagnostic; it does not itself cancel the call.
func (p *pollLoop) fetchBatch(ctx context.Context) (Batch, error) {
	type result struct {
		batch Batch
		err   error
	}

	resCh := make(chan result, 1)
	go func() {
		batch, err := p.queue.GetMessages(ctx, p.processor.BatchSize(), p.options.VisibilityTimeout)
		resCh <- result{batch: batch, err: err}
	}()

	timer := time.NewTimer(p.options.PollTimeout)
	defer timer.Stop()

	select {
	case r := <-resCh:
		return r.batch, r.err
	case <-timer.C:
		p.logger.Warnf(ctx, "GetMessages exceeded poll timeout of %s, still waiting", p.options.PollTimeout)
		r := <-resCh
		return r.batch, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pollLoop) isTransientStorageError(err error) bool {
	return p.queue.IsNotFound(err) || p.queue.IsConflictBeingDeletedOrDisabled(err) || p.queue.IsServerSideError(err)
}

// spawn adds msg to InFlightSet and starts its dispatcher. The add happens
// on the poll goroutine; the completion-removal happens on the dispatcher's
// own goroutine when it finishes. Both take mu, as does inFlightCount.
func (p *pollLoop) spawn(pollCtx, completionCtx context.Context, msg *Message) {
	taskCtx, cancel := context.WithCancel(pollCtx)

	p.mu.Lock()
	p.inFlight[msg.ID] = cancel
	p.mu.Unlock()

	d := newDispatcher(p.queue, p.processor, p.handler, p.logger, p.onError, p.options)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, msg.ID)
			p.mu.Unlock()
		}()
		d.process(taskCtx, completionCtx, msg)
	}()
}

// waitForThreshold blocks until the in-flight count drops to at most
// NewBatchThreshold, polling cheaply since dispatcher goroutines remove
// themselves from inFlight on completion.
func (p *pollLoop) waitForThreshold(ctx context.Context) {
	threshold := p.processor.NewBatchThreshold()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for p.inFlightCount() > threshold {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
