package trigger

import (
	"context"
	"sync"
	"time"
)

// scaleMonitor samples queue length/age on demand and
// computes a scale vote from the most recent window of samples. Sampling
// cadence is the external autoscaler's responsibility; this type only
// answers when asked.
type scaleMonitor struct {
	queue      QueueClient
	logger     Logger
	windowSize int

	mu      sync.Mutex
	samples []QueueMetric
}

func newScaleMonitor(queue QueueClient, logger Logger, windowSize int) *scaleMonitor {
	if windowSize < 1 {
		windowSize = 5
	}
	return &scaleMonitor{queue: queue, logger: logger, windowSize: windowSize}
}

// GetMetrics fetches one fresh sample, recording it into the sliding window.
// A transient storage error from either call degrades to a zero-metric
// sample with a warning; anything else propagates to the caller.
func (m *scaleMonitor) GetMetrics(ctx context.Context) (QueueMetric, error) {
	length, err := m.queue.FetchApproximateCount(ctx)
	if err != nil {
		if m.isTransientStorageError(err) {
			m.logger.Warnf(ctx, "transient error fetching queue attributes, reporting zero sample: %v", err)
			sample := QueueMetric{Timestamp: time.Now()}
			m.record(sample)
			return sample, nil
		}
		return QueueMetric{}, err
	}

	sample := QueueMetric{QueueLength: length, Timestamp: time.Now()}
	if length > 0 {
		head, err := m.queue.Peek(ctx)
		if err != nil {
			if m.isTransientStorageError(err) {
				m.logger.Warnf(ctx, "transient error peeking queue head, reporting zero sample: %v", err)
				sample = QueueMetric{Timestamp: time.Now()}
				m.record(sample)
				return sample, nil
			}
			return QueueMetric{}, err
		}
		if head == nil {
			// The peek found nothing even though attributes reported a
			// positive length: the attributes are stale. Force to zero.
			sample.QueueLength = 0
		} else {
			sample.HeadAge = time.Since(head.InsertionTime)
		}
	}

	m.record(sample)
	return sample, nil
}

func (m *scaleMonitor) isTransientStorageError(err error) bool {
	return m.queue.IsNotFound(err) || m.queue.IsConflictBeingDeletedOrDisabled(err) || m.queue.IsServerSideError(err)
}

func (m *scaleMonitor) record(sample QueueMetric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.windowSize {
		m.samples = m.samples[len(m.samples)-m.windowSize:]
	}
}

// snapshot returns a defensive copy of the current window, oldest first.
func (m *scaleMonitor) snapshot() []QueueMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueMetric, len(m.samples))
	copy(out, m.samples)
	return out
}

// GetScaleStatus is a pure function of (workerCount, samples, windowSize),
// following the decision table over the newest W = windowSize entries.
// Fewer than W samples available always votes None, since the window
// hasn't filled yet.
func GetScaleStatus(workerCount int, samples []QueueMetric, windowSize int) ScaleVote {
	if windowSize > 0 && len(samples) > windowSize {
		samples = samples[len(samples)-windowSize:]
	}
	w := len(samples)
	if w < windowSize || w < 2 {
		return ScaleNone
	}

	newest := samples[w-1]
	oldest := samples[0]

	if newest.QueueLength > uint64(workerCount)*1000 {
		return ScaleOut
	}

	if allZeroLength(samples) {
		return ScaleIn
	}

	if oldest.QueueLength > 0 && strictlyIncreasingLength(samples) {
		return ScaleOut
	}

	if oldest.HeadAge > 0 && oldest.HeadAge < newest.HeadAge && nonDecreasingAge(samples) {
		return ScaleOut
	}

	if strictlyDecreasingLength(samples) {
		return ScaleIn
	}

	if strictlyDecreasingAge(samples) {
		return ScaleIn
	}

	return ScaleNone
}

func allZeroLength(samples []QueueMetric) bool {
	for _, s := range samples {
		if s.QueueLength != 0 {
			return false
		}
	}
	return true
}

func strictlyIncreasingLength(samples []QueueMetric) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].QueueLength <= samples[i-1].QueueLength {
			return false
		}
	}
	return true
}

func strictlyDecreasingLength(samples []QueueMetric) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].QueueLength >= samples[i-1].QueueLength {
			return false
		}
	}
	return true
}

func nonDecreasingAge(samples []QueueMetric) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].HeadAge < samples[i-1].HeadAge {
			return false
		}
	}
	return true
}

func strictlyDecreasingAge(samples []QueueMetric) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].HeadAge >= samples[i-1].HeadAge {
			return false
		}
	}
	return true
}
