package trigger

import (
	"context"
	"time"
)

// Message is a dequeued record from the queue service. It is owned by
// exactly one Dispatcher at a time; the renewer started alongside that
// Dispatcher holds a non-owning reference for the duration of one handler
// invocation.
type Message struct {
	ID            string
	DequeueCount  int64
	InsertionTime time.Time
	Body          []byte
	PopReceipt    string
}

// Batch is the ordered sequence of messages returned from one poll. A nil
// entry is a skip, not a message, and must be ignored by callers.
type Batch []*Message

// QueueMetric is one sample of a queue's depth and head-of-queue age, as
// consumed by ScaleMonitor.
type QueueMetric struct {
	QueueLength uint64
	HeadAge     time.Duration
	Timestamp   time.Time
}

// ScaleVote is the advisory decision returned by ScaleMonitor.GetScaleStatus.
type ScaleVote int

const (
	// ScaleNone means no scaling action is recommended.
	ScaleNone ScaleVote = iota
	// ScaleOut means the autoscaler should add workers.
	ScaleOut
	// ScaleIn means the autoscaler should remove workers.
	ScaleIn
)

func (v ScaleVote) String() string {
	switch v {
	case ScaleOut:
		return "scale-out"
	case ScaleIn:
		return "scale-in"
	default:
		return "none"
	}
}

// HandlerResult is what the caller-supplied Handler returns for a single
// message. It is passed through to MessageProcessor.Complete untouched.
type HandlerResult struct {
	Success bool
	Err     error
}

// Handler is the user-supplied function invoked for each dequeued message.
// The passed context is the poll scope: it is cancelled on Stop or Cancel,
// not on ordinary message completion.
type Handler func(ctx context.Context, msg *Message) HandlerResult

// QueueClient is the external collaborator for the concrete queue service.
// The core never imports a specific SDK; every storage call goes through
// this interface.
type QueueClient interface {
	// Exists reports whether the queue currently exists.
	Exists(ctx context.Context) (bool, error)
	// GetMessages fetches up to count messages, each invisible for visibility.
	// It may return fewer than count, or none, without that being an error.
	GetMessages(ctx context.Context, count int, visibility time.Duration) (Batch, error)
	// UpdateMessageVisibility extends msg's invisibility by extension from now.
	UpdateMessageVisibility(ctx context.Context, msg *Message, extension time.Duration) error
	// DeleteMessage removes msg from the queue permanently.
	DeleteMessage(ctx context.Context, msg *Message) error
	// AddMessage inserts a copy of msg's body into the named queue (used for
	// poison routing).
	AddMessage(ctx context.Context, queueName string, body []byte) error
	// FetchApproximateCount returns the queue's approximate message count.
	FetchApproximateCount(ctx context.Context) (uint64, error)
	// Peek returns the current head message without dequeuing it, or nil if
	// the queue has no visible messages.
	Peek(ctx context.Context) (*Message, error)

	// IsNotFound classifies err as the queue not existing.
	IsNotFound(err error) bool
	// IsConflictBeingDeletedOrDisabled classifies err as a queue mid-delete
	// or disabled, a transient condition from the caller's perspective.
	IsConflictBeingDeletedOrDisabled(err error) bool
	// IsServerSideError classifies err as a 5xx from the queue service.
	IsServerSideError(err error) bool
	// IsTaskCancelled classifies err as cooperative cancellation, never
	// fatal to the listener.
	IsTaskCancelled(err error) bool
}

// MessageProcessor is the external contract that decides per-message
// admission and final outcome. BatchSize and NewBatchThreshold are read on
// every poll iteration; a processor that wants to change them at runtime
// must be safe for concurrent reads. MaxPollingInterval is read once, when
// the listener is constructed.
type MessageProcessor interface {
	// BatchSize is the number of messages requested per poll. Must be > 0.
	BatchSize() int
	// NewBatchThreshold gates the next poll: PollLoop will not issue another
	// poll while the in-flight count exceeds this value. Must be >= 0.
	NewBatchThreshold() int
	// MaxPollingInterval upper-bounds BackoffStrategy's delay.
	MaxPollingInterval() time.Duration

	// Begin returns false to skip msg entirely (e.g. dequeue-count already
	// exhausted, previously poisoned).
	Begin(ctx context.Context, msg *Message) bool
	// Complete finalizes msg according to result: delete on success, or
	// retry/poison on failure. ctx is the graceful-completion scope, not the
	// poll scope, so this call can outlive an ordinary Stop.
	Complete(ctx context.Context, msg *Message, result HandlerResult) error
	// PoisonEvent is invoked after a message has been durably inserted into
	// the poison queue, so listeners on that queue can be woken immediately.
	PoisonEvent(ctx context.Context, msg *Message)
}

// Logger is the diagnostics sink every trigger component logs through.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
}

// UnhandledExceptionHandler receives any dispatcher error that is not part
// of the cancellation family. It is called synchronously at the point of
// occurrence, never deferred to Stop.
type UnhandledExceptionHandler func(ctx context.Context, msg *Message, err error)
