package locking

import "time"

// Feedback observes a contended acquisition. Calls happen on the acquiring
// goroutine between lock probes, so implementations must return quickly.
// OnWaitStarted is only called once the first probe finds the lock held;
// uncontended acquisitions produce no callbacks.
type Feedback interface {
	// OnWaitStarted fires once, after the first failed probe.
	OnWaitStarted(key Key, policy TimeoutPolicy)
	// OnTick fires after every failed retry. remaining is nil for Infinite.
	OnTick(key Key, elapsed time.Duration, remaining *time.Duration)
	OnAcquired(key Key, elapsed time.Duration)
	OnTimeout(key Key, elapsed time.Duration)
	OnCancelled(key Key, elapsed time.Duration)
}

// NoopFeedback ignores every event.
type NoopFeedback struct{}

func (NoopFeedback) OnWaitStarted(Key, TimeoutPolicy) {}
func (NoopFeedback) OnTick(Key, time.Duration, *time.Duration) {}
func (NoopFeedback) OnAcquired(Key, time.Duration) {}
func (NoopFeedback) OnTimeout(Key, time.Duration) {}
func (NoopFeedback) OnCancelled(Key, time.Duration) {}
