// Package notify bridges a remote Redis publish into a local
// trigger.Listener.Notify() call: a thin *redis.Client wrapper with one
// publish path and one subscribe path.
//
// The channel name is scoped by queue identifier (queue:<account>/<name>)
// rather than a single global channel, so a poison queue in one account
// never wakes a listener on another account's queue of the same name.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"queuetrigger/internal/trigger"
)

// Message is published whenever a local event (a new enqueue, or a poison
// routing) should wake listeners elsewhere watching the same queue.
type Message struct {
	QueueID   string `json:"queue_id"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason"`
}

// Reason values for Message.Reason.
const (
	ReasonEnqueued = "enqueued"
	ReasonPoisoned = "poisoned"
)

// ChannelName returns the Redis channel scoped to one account/queue pair.
func ChannelName(account, queueName string) string {
	return fmt.Sprintf("queue:%s/%s", account, queueName)
}

// Bridge subscribes to a queue's channel and invokes a listener's Notify()
// on receipt; it also publishes to that channel so other processes watching
// the same queue wake immediately.
type Bridge struct {
	client  *redis.Client
	channel string
	logger  trigger.Logger
}

// New connects to addr/db and returns a Bridge scoped to channel.
func New(addr, password string, db int, channel string, logger trigger.Logger) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Bridge{client: client, channel: channel, logger: logger}, nil
}

// Publish broadcasts msg on the bridge's channel.
func (b *Bridge) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publish notify message: %w", err)
	}
	return nil
}

// PublishPoisoned is a convenience wrapper matching the
// func(ctx, *trigger.Message) shape retrypolicy.New expects for onPoison.
func (b *Bridge) PublishPoisoned(ctx context.Context, msg *trigger.Message) {
	err := b.Publish(ctx, Message{QueueID: b.channel, MessageID: msg.ID, Reason: ReasonPoisoned})
	if err != nil {
		b.logger.Errorf(ctx, "failed to publish poison notification for message %s: %v", msg.ID, err)
	}
}

// Listen blocks subscribing to the bridge's channel, calling wake on every
// message received, until ctx is cancelled. Callers typically pass
// listener.Notify as wake.
func (b *Bridge) Listen(ctx context.Context, wake func()) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var decoded Message
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				b.logger.Warnf(ctx, "discarding malformed notify payload on %s: %v", b.channel, err)
				continue
			}
			wake()
		}
	}
}

// Close releases the underlying Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}
