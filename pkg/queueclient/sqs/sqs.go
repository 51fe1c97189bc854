// Package sqs implements trigger.QueueClient over AWS SQS, grounded on the
// ReceiveMessage/DeleteMessage/ChangeMessageVisibility call shape in
// mbachry-hedwig-go's awsClient.
package sqs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"

	"queuetrigger/internal/trigger"
)

const (
	errCodeNonExistentQueue     = "AWS.SimpleQueueService.NonExistentQueue"
	errCodeQueueDeletedRecently = "AWS.SimpleQueueService.QueueDeletedRecently"
)

// Client implements trigger.QueueClient against a single named SQS queue.
// The queue URL is resolved once via GetQueueUrl and cached; a NotFound
// response from Exists or GetMessages invalidates the cache so a recreated
// queue is re-resolved.
type Client struct {
	api       sqsiface.SQSAPI
	queueName string

	mu       sync.Mutex
	queueURL *string
}

// New wraps api for queueName. api is typically sqs.New(session.Must(...)).
func New(api sqsiface.SQSAPI, queueName string) *Client {
	return &Client{api: api, queueName: queueName}
}

func (c *Client) resolveURL(ctx context.Context, queueName string) (*string, error) {
	out, err := c.api.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return nil, err
	}
	return out.QueueUrl, nil
}

func (c *Client) ownURL(ctx context.Context) (*string, error) {
	c.mu.Lock()
	cached := c.queueURL
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	url, err := c.resolveURL(ctx, c.queueName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.queueURL = url
	c.mu.Unlock()
	return url, nil
}

func (c *Client) invalidateURL() {
	c.mu.Lock()
	c.queueURL = nil
	c.mu.Unlock()
}

func (c *Client) Exists(ctx context.Context) (bool, error) {
	_, err := c.ownURL(ctx)
	if err != nil {
		if c.IsNotFound(err) {
			c.invalidateURL()
			return false, nil
		}
		return false, errors.Wrap(err, "check queue existence")
	}
	return true, nil
}

func (c *Client) GetMessages(ctx context.Context, count int, visibility time.Duration) (trigger.Batch, error) {
	url, err := c.ownURL(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve queue url")
	}

	out, err := c.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            url,
		MaxNumberOfMessages: aws.Int64(int64(count)),
		VisibilityTimeout:   aws.Int64(int64(visibility.Seconds())),
		WaitTimeSeconds:     aws.Int64(0),
		AttributeNames: []*string{
			aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount),
			aws.String(sqs.MessageSystemAttributeNameSentTimestamp),
		},
	})
	if err != nil {
		if c.IsNotFound(err) {
			c.invalidateURL()
		}
		return nil, errors.Wrap(err, "receive messages")
	}

	batch := make(trigger.Batch, 0, len(out.Messages))
	for _, m := range out.Messages {
		batch = append(batch, toMessage(m))
	}
	return batch, nil
}

func toMessage(m *sqs.Message) *trigger.Message {
	msg := &trigger.Message{
		ID:         aws.StringValue(m.MessageId),
		Body:       []byte(aws.StringValue(m.Body)),
		PopReceipt: aws.StringValue(m.ReceiptHandle),
	}
	if v := m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; v != nil {
		if n, err := strconv.ParseInt(aws.StringValue(v), 10, 64); err == nil {
			msg.DequeueCount = n
		}
	}
	if v := m.Attributes[sqs.MessageSystemAttributeNameSentTimestamp]; v != nil {
		if ms, err := strconv.ParseInt(aws.StringValue(v), 10, 64); err == nil {
			msg.InsertionTime = time.UnixMilli(ms)
		}
	}
	return msg
}

func (c *Client) UpdateMessageVisibility(ctx context.Context, msg *trigger.Message, extension time.Duration) error {
	url, err := c.ownURL(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve queue url")
	}
	_, err = c.api.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          url,
		ReceiptHandle:     aws.String(msg.PopReceipt),
		VisibilityTimeout: aws.Int64(int64(extension.Seconds())),
	})
	return errors.Wrap(err, "change message visibility")
}

func (c *Client) DeleteMessage(ctx context.Context, msg *trigger.Message) error {
	url, err := c.ownURL(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve queue url")
	}
	_, err = c.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      url,
		ReceiptHandle: aws.String(msg.PopReceipt),
	})
	return errors.Wrap(err, "delete message")
}

// AddMessage resolves queueName independently of the client's own queue, so
// it can route a poisoned message's body to a different queue than the one
// this client polls.
func (c *Client) AddMessage(ctx context.Context, queueName string, body []byte) error {
	url, err := c.resolveURL(ctx, queueName)
	if err != nil {
		return errors.Wrapf(err, "resolve queue url for %s", queueName)
	}
	_, err = c.api.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    url,
		MessageBody: aws.String(string(body)),
	})
	return errors.Wrapf(err, "send message to %s", queueName)
}

func (c *Client) FetchApproximateCount(ctx context.Context) (uint64, error) {
	url, err := c.ownURL(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "resolve queue url")
	}
	out, err := c.api.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       url,
		AttributeNames: []*string{aws.String(sqs.QueueAttributeNameApproximateNumberOfMessages)},
	})
	if err != nil {
		return 0, errors.Wrap(err, "get queue attributes")
	}
	v := out.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessages]
	if v == nil {
		return 0, nil
	}
	n, err := strconv.ParseUint(aws.StringValue(v), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse approximate count")
	}
	return n, nil
}

// Peek issues a ReceiveMessage with a zero visibility timeout so the head
// message is returned without being hidden from the next real poll. SQS has
// no true non-destructive read; this is the closest approximation and may
// occasionally race with a concurrent GetMessages call.
func (c *Client) Peek(ctx context.Context) (*trigger.Message, error) {
	url, err := c.ownURL(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve queue url")
	}
	out, err := c.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            url,
		MaxNumberOfMessages: aws.Int64(1),
		VisibilityTimeout:   aws.Int64(0),
		WaitTimeSeconds:     aws.Int64(0),
		AttributeNames:      []*string{aws.String(sqs.MessageSystemAttributeNameSentTimestamp)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "peek queue")
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	return toMessage(out.Messages[0]), nil
}

func (c *Client) IsNotFound(err error) bool {
	return awsCodeIs(err, errCodeNonExistentQueue)
}

func (c *Client) IsConflictBeingDeletedOrDisabled(err error) bool {
	return awsCodeIs(err, errCodeQueueDeletedRecently)
}

func (c *Client) IsServerSideError(err error) bool {
	if reqErr, ok := errors.Cause(err).(awserr.RequestFailure); ok {
		return reqErr.StatusCode() >= 500
	}
	return false
}

// IsTaskCancelled recognizes both a bare context cancellation and the shape
// the SDK actually produces for one: a *WithContext call observing ctx.Done()
// mid-flight returns an awserr.Error with Code() RequestCanceled wrapping the
// original context error, not the bare context.Canceled/DeadlineExceeded
// value, so errors.Cause alone never matches it.
func (c *Client) IsTaskCancelled(err error) bool {
	cause := errors.Cause(err)
	if cause == context.Canceled || cause == context.DeadlineExceeded {
		return true
	}
	if awsErr, ok := cause.(awserr.Error); ok {
		if awsErr.Code() == request.CanceledErrorCode {
			return true
		}
		orig := awsErr.OrigErr()
		return orig == context.Canceled || orig == context.DeadlineExceeded
	}
	return false
}

func awsCodeIs(err error, code string) bool {
	awsErr, ok := errors.Cause(err).(awserr.Error)
	return ok && awsErr.Code() == code
}

var _ trigger.QueueClient = (*Client)(nil)
