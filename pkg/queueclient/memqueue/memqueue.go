// Package memqueue is an in-process QueueClient, grounded on the
// ready-channel queue design in the hootrhino/microqueue package: messages
// live in a ready slice, a delivery pulls one into an in-flight map
// keyed by pop receipt, and visibility expiry is modeled with a timer that
// republishes the message if it was never deleted or re-extended in time.
//
// It exists for tests and for the demo binary when no cloud queue is
// configured; it is not meant to survive a process restart.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"queuetrigger/internal/trigger"
)

var (
	// ErrClosed is returned by GetMessages after Close.
	ErrClosed = fmt.Errorf("memqueue: closed")
	// ErrNotFound is returned when a pop receipt matches no in-flight message.
	ErrNotFound = fmt.Errorf("memqueue: not found")
)

type inflight struct {
	msg      *trigger.Message
	deadline time.Time
	timer    *time.Timer
}

// Client is an in-memory QueueClient plus the sibling poison queues it can
// route AddMessage calls to.
type Client struct {
	mu       sync.Mutex
	name     string
	ready    []*trigger.Message
	inFlight map[string]*inflight
	seq      int64
	closed   bool

	siblings map[string]*Client
}

// New constructs a named, empty queue.
func New(name string) *Client {
	return &Client{
		name:     name,
		inFlight: make(map[string]*inflight),
		siblings: make(map[string]*Client),
	}
}

// Link registers other as the target for AddMessage(ctx, other.name, ...),
// so a poison-routing call actually lands somewhere observable in tests.
func (c *Client) Link(other *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.siblings[other.name] = other
}

// Publish enqueues a brand-new message, as a producer would.
func (c *Client) Publish(body []byte) *trigger.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	msg := &trigger.Message{
		ID:            fmt.Sprintf("%s-%d", c.name, c.seq),
		InsertionTime: time.Now(),
		Body:          body,
	}
	c.ready = append(c.ready, msg)
	return msg
}

func (c *Client) Exists(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed, nil
}

func (c *Client) GetMessages(ctx context.Context, count int, visibility time.Duration) (trigger.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	n := count
	if n > len(c.ready) {
		n = len(c.ready)
	}
	if n == 0 {
		return nil, nil
	}

	batch := make(trigger.Batch, 0, n)
	taken := c.ready[:n]
	c.ready = c.ready[n:]

	for _, msg := range taken {
		cp := *msg
		cp.DequeueCount++
		cp.PopReceipt = fmt.Sprintf("%s#%d", cp.ID, cp.DequeueCount)
		deadline := time.Now().Add(visibility)

		stored := cp
		item := &inflight{msg: &stored, deadline: deadline}
		item.timer = time.AfterFunc(visibility, func() {
			c.expire(stored.ID, item)
		})
		c.inFlight[cp.PopReceipt] = item

		batch = append(batch, &stored)
	}
	return batch, nil
}

func (c *Client) expire(id string, item *inflight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for receipt, in := range c.inFlight {
		if in == item {
			delete(c.inFlight, receipt)
			requeued := *in.msg
			requeued.PopReceipt = ""
			c.ready = append(c.ready, &requeued)
			return
		}
	}
}

func (c *Client) UpdateMessageVisibility(ctx context.Context, msg *trigger.Message, extension time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.inFlight[msg.PopReceipt]
	if !ok {
		return ErrNotFound
	}
	item.timer.Stop()
	item.deadline = time.Now().Add(extension)
	item.timer = time.AfterFunc(extension, func() {
		c.expire(msg.ID, item)
	})
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, msg *trigger.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.inFlight[msg.PopReceipt]
	if !ok {
		return ErrNotFound
	}
	item.timer.Stop()
	delete(c.inFlight, msg.PopReceipt)
	return nil
}

func (c *Client) AddMessage(ctx context.Context, queueName string, body []byte) error {
	c.mu.Lock()
	target := c.siblings[queueName]
	c.mu.Unlock()
	if target == nil {
		return fmt.Errorf("memqueue: unknown sibling queue %q", queueName)
	}
	target.Publish(body)
	return nil
}

func (c *Client) FetchApproximateCount(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.ready)), nil
}

func (c *Client) Peek(ctx context.Context) (*trigger.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ready) == 0 {
		return nil, nil
	}
	cp := *c.ready[0]
	return &cp, nil
}

func (c *Client) IsNotFound(err error) bool                       { return err == ErrNotFound }
func (c *Client) IsConflictBeingDeletedOrDisabled(err error) bool { return false }
func (c *Client) IsServerSideError(err error) bool                { return false }
func (c *Client) IsTaskCancelled(err error) bool                  { return err == context.Canceled }

// Close marks the queue closed; subsequent GetMessages calls fail.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, item := range c.inFlight {
		item.timer.Stop()
	}
}

var _ trigger.QueueClient = (*Client)(nil)
