// Package mutation tracks DOM churn on a live tab via a driver-injected
// mutation counter, so a snapshot cache can be invalidated cheaply
// without re-fetching and re-parsing the whole page on every poll.
package mutation

import (
	"context"
	"time"
)

// Counter reads the current value of a page-injected mutation counter.
// The concrete implementation asks the driver to evaluate a small
// script that a MutationObserver keeps incrementing.
type Counter interface {
	MutationCount(ctx context.Context) (int64, error)
}

// Tracker remembers the last observed count for a single tab.
type Tracker struct {
	counter Counter
	last    int64
	seen    bool
}

func New(counter Counter) *Tracker {
	return &Tracker{counter: counter}
}

// Observe records the current count as the baseline, without comparing
// against anything — used right after a fresh snapshot is taken.
func (t *Tracker) Observe(ctx context.Context) error {
	n, err := t.counter.MutationCount(ctx)
	if err != nil {
		return err
	}
	t.last = n
	t.seen = true
	return nil
}

// Poll reports whether the counter has moved since the last Observe or
// Poll, and updates the baseline either way.
func (t *Tracker) Poll(ctx context.Context) (changed bool, count int64, err error) {
	n, err := t.counter.MutationCount(ctx)
	if err != nil {
		return false, 0, err
	}
	changed = !t.seen || n != t.last
	t.last = n
	t.seen = true
	return changed, n, nil
}

// WaitForChanges polls at interval until the counter moves, ctx is
// canceled, or timeout elapses. It returns false, nil on a clean
// timeout — that's a legitimate "nothing changed" outcome, not an
// error.
func (t *Tracker) WaitForChanges(ctx context.Context, timeout, interval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		changed, _, err := t.Poll(ctx)
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
