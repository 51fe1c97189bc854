package trigger

import (
	"context"
	"fmt"
)

// dispatcher drives the per-message lifecycle begin -> renewer-start
// -> handler -> renewer-stop -> complete, strictly sequenced.
type dispatcher struct {
	queue      QueueClient
	processor  MessageProcessor
	handler    Handler
	logger     Logger
	onError    UnhandledExceptionHandler
	options    Options
}

func newDispatcher(queue QueueClient, processor MessageProcessor, handler Handler, logger Logger, onError UnhandledExceptionHandler, options Options) *dispatcher {
	return &dispatcher{
		queue:     queue,
		processor: processor,
		handler:   handler,
		logger:    logger,
		onError:   onError,
		options:   options,
	}
}

// process runs one message to completion. pollCtx is the poll scope used for
// the handler invocation and the renewer; completionCtx is the independent
// graceful-completion scope used only for the final Complete call, so that
// finalization can run to completion during an ordinary Stop.
func (d *dispatcher) process(pollCtx, completionCtx context.Context, msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			d.reportUnhandled(pollCtx, msg, panicError{rec})
		}
	}()

	if !d.processor.Begin(pollCtx, msg) {
		return
	}

	renewer := newVisibilityRenewer(d.queue, d.logger, msg, d.options.VisibilityTimeout, d.options.MinimumVisibilityRenewalInterval)
	renewer.Start(pollCtx)

	result := d.invokeHandler(pollCtx, msg)

	renewer.Stop()

	if err := d.processor.Complete(completionCtx, msg, result); err != nil {
		if d.queue.IsTaskCancelled(err) {
			d.logger.Infof(completionCtx, "completion for message %s cancelled during shutdown", msg.ID)
			return
		}
		d.reportUnhandled(completionCtx, msg, err)
	}
}

// invokeHandler runs the user handler, converting a panic into a failed
// HandlerResult rather than letting it escape — panics from user code are
// not part of the cancellation family and must not take down the poll loop.
func (d *dispatcher) invokeHandler(ctx context.Context, msg *Message) HandlerResult {
	var result HandlerResult
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				result = HandlerResult{Success: false, Err: panicError{rec}}
			}
		}()
		result = d.handler(ctx, msg)
	}()

	if result.Success {
		return result
	}
	if result.Err != nil && d.queue.IsTaskCancelled(result.Err) {
		d.logger.Infof(ctx, "handler for message %s cancelled", msg.ID)
	}
	return result
}

// reportUnhandled swallows the cancellation family and reports anything
// else synchronously, at the point of occurrence — this goroutine is never
// awaited for its return value, so storing the error as a task fault would
// simply lose it.
func (d *dispatcher) reportUnhandled(ctx context.Context, msg *Message, err error) {
	if d.queue.IsTaskCancelled(err) {
		return
	}
	d.logger.Errorf(ctx, "unhandled exception processing message %s: %v", msg.ID, err)
	if d.onError != nil {
		d.onError(ctx, msg, err)
	}
}

// panicError adapts a recovered panic value to the error interface so it can
// flow through the same reporting path as a normal error.
type panicError struct {
	value interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
