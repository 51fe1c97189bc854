package trigger

import "time"

// QueuePollingIntervals holds the polling-interval bounds. Minimum is the
// default Options.MinPollingInterval. A MessageProcessor's
// MaxPollingInterval is not checked against these values; the poll loop
// only raises it to Options.MinPollingInterval when it is smaller.
var QueuePollingIntervals = struct {
	Minimum time.Duration
	Maximum time.Duration
}{
	Minimum: 100 * time.Millisecond,
	Maximum: 5 * time.Minute,
}

// Options configures a Listener. Parsing these from a file or environment
// is an external, demo-only concern (see pkg/triggerconfig); the core takes
// a plain struct literal.
type Options struct {
	// VisibilityTimeout is the initial invisibility window granted to a
	// message when it is dequeued.
	VisibilityTimeout time.Duration

	// MinimumVisibilityRenewalInterval floors the accelerated renewal
	// schedule used by the visibility renewer.
	MinimumVisibilityRenewalInterval time.Duration

	// MinPollingInterval is BackoffStrategy's min.
	MinPollingInterval time.Duration

	// NumberOfSamplesToConsider is ScaleMonitor's window size W.
	NumberOfSamplesToConsider int

	// FunctionID and QueueName compose the listener's Descriptor.
	FunctionID string
	QueueName  string

	// PollTimeout bounds a single GetMessages call; exceeding it only logs
	// a diagnostic unless the passed context is also cancelled.
	PollTimeout time.Duration
}

// DefaultOptions returns the listener's baseline tuning.
func DefaultOptions() Options {
	return Options{
		VisibilityTimeout:                10 * time.Minute,
		MinimumVisibilityRenewalInterval: time.Minute,
		MinPollingInterval:               QueuePollingIntervals.Minimum,
		NumberOfSamplesToConsider:        5,
		PollTimeout:                      30 * time.Second,
	}
}

// Descriptor returns the lowercase "<function_id>-queuetrigger-<queue_name>"
// identifier used to scope cross-listener notify.
func (o Options) Descriptor() string {
	return lowercase(o.FunctionID) + "-queuetrigger-" + lowercase(o.QueueName)
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
