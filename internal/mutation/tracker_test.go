package mutation

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCounter struct {
	values []int64
	i      int
	err    error
}

func (f *fakeCounter) MutationCount(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.i >= len(f.values) {
		return f.values[len(f.values)-1], nil
	}
	v := f.values[f.i]
	f.i++
	return v, nil
}

func TestPollDetectsChange(t *testing.T) {
	c := &fakeCounter{values: []int64{1, 1, 2}}
	tr := New(c)

	if err := tr.Observe(context.Background()); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	changed, _, err := tr.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if changed {
		t.Error("count unchanged since Observe, expected changed=false")
	}
	changed, count, err := tr.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !changed || count != 2 {
		t.Errorf("expected changed=true count=2, got changed=%v count=%d", changed, count)
	}
}

func TestPollPropagatesCounterError(t *testing.T) {
	c := &fakeCounter{err: errors.New("boom")}
	tr := New(c)
	if _, _, err := tr.Poll(context.Background()); err == nil {
		t.Error("expected error from underlying counter to propagate")
	}
}

func TestWaitForChangesReturnsOnChange(t *testing.T) {
	c := &fakeCounter{values: []int64{0, 0, 1}}
	tr := New(c)
	tr.Observe(context.Background())

	changed, err := tr.WaitForChanges(context.Background(), time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForChanges: %v", err)
	}
	if !changed {
		t.Error("expected WaitForChanges to report a change")
	}
}

func TestWaitForChangesCleanTimeout(t *testing.T) {
	c := &fakeCounter{values: []int64{0}}
	tr := New(c)
	tr.Observe(context.Background())

	changed, err := tr.WaitForChanges(context.Background(), 20*time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Errorf("a clean timeout should not be an error, got %v", err)
	}
	if changed {
		t.Error("counter never moved, expected changed=false")
	}
}

func TestWaitForChangesRespectsContextCancellation(t *testing.T) {
	c := &fakeCounter{values: []int64{0}}
	tr := New(c)
	tr.Observe(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.WaitForChanges(ctx, time.Second, time.Millisecond)
	if err == nil {
		t.Error("expected context cancellation to surface as an error")
	}
}
