package provision

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the create-conflict retry loop: Attempts tries with
// a fixed Interval between them. Sleep is replaceable so tests run
// against a fake clock.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
	Sleep    func(time.Duration)
}

// PollPolicy bounds the deletion-propagation wait.
type PollPolicy struct {
	Attempts int
	Interval time.Duration
	Sleep    func(time.Duration)
}

// DefaultRetryPolicy matches the intervals the cluster needs to release
// a just-deleted name: 5 attempts, 3s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Interval: 3 * time.Second, Sleep: time.Sleep}
}

// DefaultPollPolicy waits up to 10 list cycles, 2s apart, for a delete
// to propagate out of the remote's listings.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Attempts: 10, Interval: 2 * time.Second, Sleep: time.Sleep}
}

// backOff builds the constant-interval schedule for one retry loop.
// backoff counts retries after the first attempt, hence Attempts-1.
func (p RetryPolicy) backOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.Attempts-1))
}

// run invokes op up to Attempts times, sleeping the scheduled interval
// between tries. op reports whether the error is retryable; a
// non-retryable error stops the loop immediately. The attempt number is
// 1-based. Returns the last error when every attempt failed.
func (p RetryPolicy) run(op func(attempt int) (retryable bool, err error)) error {
	bo := p.backOff()
	var lastErr error
	for attempt := 1; ; attempt++ {
		retryable, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return lastErr
		}
		p.Sleep(next)
	}
}
