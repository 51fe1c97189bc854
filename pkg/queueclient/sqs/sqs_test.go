package sqs

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"queuetrigger/internal/trigger"
)

// fakeSQSAPI is a testify/mock double over sqsiface.SQSAPI, in the same
// embed-and-override shape as mbachry-hedwig-go's FakeSQS: only the methods
// this package actually calls are overridden, everything else panics if hit.
type fakeSQSAPI struct {
	mock.Mock
	sqsiface.SQSAPI
}

func (f *fakeSQSAPI) GetQueueUrlWithContext(ctx aws.Context, in *sqs.GetQueueUrlInput, opts ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	args := f.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.GetQueueUrlOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (f *fakeSQSAPI) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	args := f.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.ReceiveMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func (f *fakeSQSAPI) ChangeMessageVisibilityWithContext(ctx aws.Context, in *sqs.ChangeMessageVisibilityInput, opts ...request.Option) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := f.Called(ctx, in)
	return &sqs.ChangeMessageVisibilityOutput{}, args.Error(1)
}

func (f *fakeSQSAPI) DeleteMessageWithContext(ctx aws.Context, in *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error) {
	args := f.Called(ctx, in)
	return &sqs.DeleteMessageOutput{}, args.Error(1)
}

func (f *fakeSQSAPI) SendMessageWithContext(ctx aws.Context, in *sqs.SendMessageInput, opts ...request.Option) (*sqs.SendMessageOutput, error) {
	args := f.Called(ctx, in)
	return &sqs.SendMessageOutput{}, args.Error(1)
}

func (f *fakeSQSAPI) GetQueueAttributesWithContext(ctx aws.Context, in *sqs.GetQueueAttributesInput, opts ...request.Option) (*sqs.GetQueueAttributesOutput, error) {
	args := f.Called(ctx, in)
	if out := args.Get(0); out != nil {
		return out.(*sqs.GetQueueAttributesOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/000000000000/my-queue"

func TestClient_GetMessagesMapsAttributes(t *testing.T) {
	api := &fakeSQSAPI{}
	api.On("GetQueueUrlWithContext", mock.Anything, mock.Anything).
		Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil)
	api.On("ReceiveMessageWithContext", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{
			Messages: []*sqs.Message{
				{
					MessageId:     aws.String("m1"),
					Body:          aws.String("hello"),
					ReceiptHandle: aws.String("r1"),
					Attributes: map[string]*string{
						sqs.MessageSystemAttributeNameApproximateReceiveCount: aws.String("3"),
						sqs.MessageSystemAttributeNameSentTimestamp:           aws.String("1700000000000"),
					},
				},
			},
		}, nil)

	c := New(api, "my-queue")
	batch, err := c.GetMessages(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "m1", batch[0].ID)
	assert.Equal(t, []byte("hello"), batch[0].Body)
	assert.Equal(t, "r1", batch[0].PopReceipt)
	assert.EqualValues(t, 3, batch[0].DequeueCount)
	assert.Equal(t, int64(1700000000000), batch[0].InsertionTime.UnixMilli())

	api.AssertExpectations(t)
}

func TestClient_QueueURLIsCachedAcrossCalls(t *testing.T) {
	api := &fakeSQSAPI{}
	api.On("GetQueueUrlWithContext", mock.Anything, mock.Anything).
		Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil).Once()
	api.On("ReceiveMessageWithContext", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil)

	c := New(api, "my-queue")
	_, err := c.GetMessages(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	_, err = c.GetMessages(context.Background(), 10, time.Minute)
	require.NoError(t, err)

	api.AssertNumberOfCalls(t, "GetQueueUrlWithContext", 1)
}

func TestClient_ExistsFalseOnNonExistentQueueAndInvalidatesCache(t *testing.T) {
	api := &fakeSQSAPI{}
	notFound := awserr.New("AWS.SimpleQueueService.NonExistentQueue", "queue does not exist", nil)
	api.On("GetQueueUrlWithContext", mock.Anything, mock.Anything).
		Return((*sqs.GetQueueUrlOutput)(nil), notFound)

	c := New(api, "my-queue")
	exists, err := c.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)

	// cache was invalidated, so a second call re-resolves rather than
	// trusting a stale miss.
	_, _ = c.Exists(context.Background())
	api.AssertNumberOfCalls(t, "GetQueueUrlWithContext", 2)
}

func TestClient_IsServerSideErrorClassifiesFiveHundreds(t *testing.T) {
	c := New(&fakeSQSAPI{}, "my-queue")
	reqErr := awserr.NewRequestFailure(
		awserr.New("InternalError", "boom", nil), 503, "req-1")
	wrapped := errors.Wrap(reqErr, "receive messages")

	assert.True(t, c.IsServerSideError(wrapped))
	assert.False(t, c.IsNotFound(wrapped))
}

func TestClient_IsTaskCancelledSeesThroughWrap(t *testing.T) {
	c := New(&fakeSQSAPI{}, "my-queue")
	wrapped := errors.Wrap(context.Canceled, "receive messages")
	assert.True(t, c.IsTaskCancelled(wrapped))
}

func TestClient_IsTaskCancelledRecognizesSDKShapedCancellation(t *testing.T) {
	c := New(&fakeSQSAPI{}, "my-queue")

	// This is the shape a *WithContext call actually returns when ctx is
	// cancelled mid-flight: an awserr.Error with Code() RequestCanceled
	// wrapping the context error, not the bare context.Canceled value.
	sdkErr := awserr.New(request.CanceledErrorCode, "request context canceled", context.Canceled)
	wrapped := errors.Wrap(sdkErr, "receive messages")

	assert.True(t, c.IsTaskCancelled(wrapped))
	assert.False(t, c.IsTaskCancelled(errors.New("unrelated failure")))
}

func TestClient_DeleteMessageUsesReceiptHandle(t *testing.T) {
	api := &fakeSQSAPI{}
	api.On("GetQueueUrlWithContext", mock.Anything, mock.Anything).
		Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil)
	api.On("DeleteMessageWithContext", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.StringValue(in.ReceiptHandle) == "r1" && aws.StringValue(in.QueueUrl) == testQueueURL
	})).Return(nil, nil)

	c := New(api, "my-queue")
	err := c.DeleteMessage(context.Background(), &trigger.Message{ID: "m1", PopReceipt: "r1"})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestClient_AddMessageResolvesSiblingQueueIndependently(t *testing.T) {
	api := &fakeSQSAPI{}
	poisonURL := "https://sqs.us-east-1.amazonaws.com/000000000000/poison-queue"
	api.On("GetQueueUrlWithContext", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueUrlInput) bool {
		return aws.StringValue(in.QueueName) == "poison-queue"
	})).Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(poisonURL)}, nil)
	api.On("SendMessageWithContext", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		return aws.StringValue(in.QueueUrl) == poisonURL && aws.StringValue(in.MessageBody) == "bad"
	})).Return(nil, nil)

	c := New(api, "my-queue")
	err := c.AddMessage(context.Background(), "poison-queue", []byte("bad"))
	require.NoError(t, err)
	api.AssertExpectations(t)
}

var _ trigger.QueueClient = (*Client)(nil)
