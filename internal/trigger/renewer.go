package trigger

import (
	"context"
	"time"
)

// visibilityRenewer is a background task that extends a
// message's invisibility on a shrinking schedule until stopped. It is
// started by Dispatcher alongside the handler invocation and must not
// outlive that call site.
type visibilityRenewer struct {
	queue   QueueClient
	logger  Logger
	msg     *Message
	v       time.Duration
	minTick time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func newVisibilityRenewer(queue QueueClient, logger Logger, msg *Message, v, minTick time.Duration) *visibilityRenewer {
	return &visibilityRenewer{
		queue:   queue,
		logger:  logger,
		msg:     msg,
		v:       v,
		minTick: minTick,
		done:    make(chan struct{}),
	}
}

// Start launches the renewal loop under ctx (the poll scope). The first
// extension attempt fires at v/2 after start.
func (r *visibilityRenewer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		defer close(r.done)
		r.loop(ctx)
	}()
}

// Stop cancels the renewal loop and blocks until it has exited. Dispatcher
// calls this after the handler returns, success or failure.
func (r *visibilityRenewer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *visibilityRenewer) loop(ctx context.Context) {
	interval := r.v / 2
	if interval < r.minTick {
		interval = r.minTick
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			err := r.queue.UpdateMessageVisibility(ctx, r.msg, r.v)
			switch {
			case err == nil:
				interval = r.v / 2
				if interval < r.minTick {
					interval = r.minTick
				}
			case r.queue.IsTaskCancelled(err):
				return
			case r.isTerminal(err):
				r.logger.Warnf(ctx, "visibility renewal for message %s stopped: %v", r.msg.ID, err)
				return
			default:
				interval = interval / 2
				if interval < r.minTick {
					interval = r.minTick
				}
				r.logger.Warnf(ctx, "visibility renewal for message %s failed transiently, retrying in %s: %v", r.msg.ID, interval, err)
			}
			timer.Reset(interval)
		}
	}
}

// isTerminal reports whether err means the message is unambiguously gone
// (not found / conflicting) rather than a transient storage hiccup that the
// accelerated schedule should simply retry.
func (r *visibilityRenewer) isTerminal(err error) bool {
	return r.queue.IsNotFound(err) || r.queue.IsConflictBeingDeletedOrDisabled(err)
}
