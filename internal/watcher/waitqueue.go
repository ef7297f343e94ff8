package watcher

import (
	"context"
	"time"
)

// WaitingItem is a batch held by a debounce stage. Candidates counts the
// events of the batch that may still be correlated with a later batch;
// the item is released once it drops to zero or its deadline passes.
type WaitingItem struct {
	Events     Batch
	Candidates int
	Deadline   time.Time
}

// waitQueue holds waiting items in arrival order. Items leave from the
// front only, so a batch is never released before an earlier one.
type waitQueue struct {
	items []*WaitingItem
}

func (q *waitQueue) push(events Batch, candidates int, deadline time.Time) {
	q.items = append(q.items, &WaitingItem{
		Events:     events,
		Candidates: candidates,
		Deadline:   deadline,
	})
}

// release pops the leading items that are settled or expired.
func (q *waitQueue) release(now time.Time) []Batch {
	var out []Batch
	for len(q.items) > 0 {
		front := q.items[0]
		if front.Candidates > 0 && now.Before(front.Deadline) {
			break
		}
		out = append(out, front.Events)
		q.items = q.items[1:]
	}
	return out
}

// drain pops every item.
func (q *waitQueue) drain() []Batch {
	out := make([]Batch, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Events)
	}
	q.items = nil
	return out
}

// correlatable returns the items whose events may still be correlated.
func (q *waitQueue) correlatable() []*WaitingItem {
	var out []*WaitingItem
	for _, item := range q.items {
		if item.Candidates > 0 {
			out = append(out, item)
		}
	}
	return out
}

func (q *waitQueue) nextDeadline() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].Deadline, true
}

func (q *waitQueue) len() int { return len(q.items) }

// deferringStage is a stage holding batches until a deadline. Both
// callbacks run on the stage goroutine and return what to push downstream.
type deferringStage interface {
	onBatch(ctx context.Context, b Batch, now time.Time) ([]Batch, error)
	onDeadline(now time.Time) []Batch
	nextDeadline() (time.Time, bool)
}

// runDeferring drives a deferringStage: one goroutine, one timer armed for
// the earliest deadline, selected together with input readiness so that
// flushing and correlation never interleave.
func runDeferring(ctx context.Context, in, out *Channel, st deferringStage, onErr func(error)) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var expired <-chan time.Time
		if deadline, ok := st.nextDeadline(); ok {
			timer.Reset(time.Until(deadline))
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case <-in.Ready():
			for {
				b, ok := in.TryPop()
				if !ok {
					break
				}
				batches, err := apply(ctx, func(ctx context.Context, b Batch) ([]Batch, error) {
					return st.onBatch(ctx, b, time.Now())
				}, b)
				if err != nil && onErr != nil {
					onErr(err)
				}
				pushAll(out, batches)
			}

		case now := <-expired:
			pushAll(out, st.onDeadline(now))
		}
	}
}

func pushAll(out *Channel, batches []Batch) {
	for _, b := range batches {
		out.Push(b)
	}
}
