// Package retrypolicy is a reference trigger.MessageProcessor: delete on
// success, poison once a failed message's dequeue count reaches MaxDequeueCount,
// otherwise extend the message's visibility by a computed backoff delay
// before it becomes eligible for redelivery. The delay calculation is
// grounded on the transactional-outbox dispatcher's retry-delay calculator
// (fixed/linear/exponential + jitter, capped at MaxDelay).
package retrypolicy

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"queuetrigger/internal/trigger"
)

// BackoffStrategy selects how RetryDelay grows with each failed attempt.
type BackoffStrategy int

const (
	// BackoffFixed always waits RetryDelay.
	BackoffFixed BackoffStrategy = iota
	// BackoffLinear waits RetryDelay * attempt.
	BackoffLinear
	// BackoffExponential waits RetryDelay * 2^(attempt-1).
	BackoffExponential
)

// Config tunes a Policy.
type Config struct {
	BatchSize          int
	NewBatchThreshold  int
	MaxPollingInterval time.Duration

	// MaxDequeueCount poisons a message once its dequeue count reaches
	// this value. Zero disables poisoning; messages retry forever.
	MaxDequeueCount int64
	// PoisonQueueName is where a poisoned message's body is copied before
	// the original is deleted. Empty means delete with no copy.
	PoisonQueueName string

	BackoffStrategy BackoffStrategy
	RetryDelay      time.Duration
	MaxDelay        time.Duration
	Jitter          time.Duration
}

// Policy implements trigger.MessageProcessor.
type Policy struct {
	cfg      Config
	queue    trigger.QueueClient
	logger   trigger.Logger
	onPoison func(ctx context.Context, msg *trigger.Message)
}

// New constructs a Policy. onPoison may be nil; when set it is called after
// a message has been durably routed to the poison queue, wired to
// pkg/notify.Bridge.PublishPoisoned in the demo so other listeners on that
// queue wake immediately instead of waiting for their own backoff.
func New(cfg Config, queue trigger.QueueClient, logger trigger.Logger, onPoison func(ctx context.Context, msg *trigger.Message)) *Policy {
	return &Policy{cfg: cfg, queue: queue, logger: logger, onPoison: onPoison}
}

func (p *Policy) BatchSize() int                   { return p.cfg.BatchSize }
func (p *Policy) NewBatchThreshold() int            { return p.cfg.NewBatchThreshold }
func (p *Policy) MaxPollingInterval() time.Duration { return p.cfg.MaxPollingInterval }

// Begin only skips a message whose dequeue count already exceeds the
// budget — a message arriving on its last permitted delivery
// (DequeueCount == MaxDequeueCount) must still reach the handler; the
// poison-or-retry decision for that delivery belongs to Complete. This guard
// exists for a message that somehow exceeded budget in a prior cycle (e.g.
// MaxDequeueCount was lowered) and should never be handled again.
func (p *Policy) Begin(ctx context.Context, msg *trigger.Message) bool {
	if p.overBudget(msg) {
		p.logger.Warnf(ctx, "message %s already over its dequeue budget, poisoning without handling", msg.ID)
		if err := p.poison(ctx, msg); err != nil {
			p.logger.Errorf(ctx, "failed to poison over-budget message %s: %v", msg.ID, err)
		}
		return false
	}
	return true
}

// Complete deletes msg on success; on failure it either poisons msg (budget
// exhausted) or extends its visibility by the computed retry delay so the
// next redelivery is backed off rather than immediate.
func (p *Policy) Complete(ctx context.Context, msg *trigger.Message, result trigger.HandlerResult) error {
	if result.Success {
		return errors.Wrap(p.queue.DeleteMessage(ctx, msg), "delete completed message")
	}

	if p.exhausted(msg) {
		return p.poison(ctx, msg)
	}

	delay := p.calculateRetryDelay(msg.DequeueCount)
	if delay <= 0 {
		return nil
	}
	err := p.queue.UpdateMessageVisibility(ctx, msg, delay)
	if err != nil && !p.queue.IsTaskCancelled(err) {
		return errors.Wrap(err, "extend visibility for retry")
	}
	return nil
}

// PoisonEvent notifies onPoison, if configured.
func (p *Policy) PoisonEvent(ctx context.Context, msg *trigger.Message) {
	if p.onPoison != nil {
		p.onPoison(ctx, msg)
	}
}

func (p *Policy) exhausted(msg *trigger.Message) bool {
	return p.cfg.MaxDequeueCount > 0 && msg.DequeueCount >= p.cfg.MaxDequeueCount
}

func (p *Policy) overBudget(msg *trigger.Message) bool {
	return p.cfg.MaxDequeueCount > 0 && msg.DequeueCount > p.cfg.MaxDequeueCount
}

func (p *Policy) poison(ctx context.Context, msg *trigger.Message) error {
	if p.cfg.PoisonQueueName != "" {
		if err := p.queue.AddMessage(ctx, p.cfg.PoisonQueueName, msg.Body); err != nil {
			return errors.Wrapf(err, "copy poisoned message %s to %s", msg.ID, p.cfg.PoisonQueueName)
		}
	}
	if err := p.queue.DeleteMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "delete poisoned message %s", msg.ID)
	}
	p.PoisonEvent(ctx, msg)
	return nil
}

func (p *Policy) calculateRetryDelay(attempt int64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	var delay time.Duration
	switch p.cfg.BackoffStrategy {
	case BackoffExponential:
		delay = p.cfg.RetryDelay * time.Duration(int64(1)<<uint(attempt-1))
	case BackoffLinear:
		delay = p.cfg.RetryDelay * time.Duration(attempt)
	default:
		delay = p.cfg.RetryDelay
	}

	if p.cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.cfg.Jitter)))
	}

	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}

	return delay
}

var _ trigger.MessageProcessor = (*Policy)(nil)
