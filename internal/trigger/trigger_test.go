package trigger

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errNotFound   = errors.New("fake: not found")
	errConflict   = errors.New("fake: conflict")
	errServerSide = errors.New("fake: server side error")
)

// testLogger discards everything but keeps a goroutine-safe record of
// warn/error lines, for asserting against captured log output rather than
// a mock logger.
type testLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *testLogger) Debugf(ctx context.Context, format string, args ...interface{}) {}
func (l *testLogger) Infof(ctx context.Context, format string, args ...interface{})  {}

func (l *testLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}

func (l *testLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, format)
}

func (l *testLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// fakeQueue is a minimal hand-rolled QueueClient for unit tests that only
// exercise a single component in isolation (e.g. the renewer) and don't
// need memqueue's full batch-delivery semantics.
type fakeQueue struct {
	mu sync.Mutex

	existsFn           func(ctx context.Context) (bool, error)
	getMessagesFn      func(ctx context.Context, count int, visibility time.Duration) (Batch, error)
	updateVisibilityFn func(ctx context.Context, msg *Message, extension time.Duration) error
	deleteFn           func(ctx context.Context, msg *Message) error
	addMessageFn       func(ctx context.Context, queueName string, body []byte) error
	fetchApproxCountFn func(ctx context.Context) (uint64, error)
	peekFn             func(ctx context.Context) (*Message, error)

	updateVisibilityCalls int
}

func (f *fakeQueue) Exists(ctx context.Context) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx)
	}
	return true, nil
}

func (f *fakeQueue) GetMessages(ctx context.Context, count int, visibility time.Duration) (Batch, error) {
	if f.getMessagesFn != nil {
		return f.getMessagesFn(ctx, count, visibility)
	}
	return nil, nil
}

func (f *fakeQueue) UpdateMessageVisibility(ctx context.Context, msg *Message, extension time.Duration) error {
	f.mu.Lock()
	f.updateVisibilityCalls++
	f.mu.Unlock()
	if f.updateVisibilityFn != nil {
		return f.updateVisibilityFn(ctx, msg, extension)
	}
	return nil
}

func (f *fakeQueue) visibilityCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateVisibilityCalls
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, msg *Message) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, msg)
	}
	return nil
}

func (f *fakeQueue) AddMessage(ctx context.Context, queueName string, body []byte) error {
	if f.addMessageFn != nil {
		return f.addMessageFn(ctx, queueName, body)
	}
	return nil
}

func (f *fakeQueue) FetchApproximateCount(ctx context.Context) (uint64, error) {
	if f.fetchApproxCountFn != nil {
		return f.fetchApproxCountFn(ctx)
	}
	return 0, nil
}

func (f *fakeQueue) Peek(ctx context.Context) (*Message, error) {
	if f.peekFn != nil {
		return f.peekFn(ctx)
	}
	return nil, nil
}

func (f *fakeQueue) IsNotFound(err error) bool                       { return err == errNotFound }
func (f *fakeQueue) IsConflictBeingDeletedOrDisabled(err error) bool { return err == errConflict }
func (f *fakeQueue) IsServerSideError(err error) bool                { return err == errServerSide }
func (f *fakeQueue) IsTaskCancelled(err error) bool                  { return err == context.Canceled }

var _ QueueClient = (*fakeQueue)(nil)
