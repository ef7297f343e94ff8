package watcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Channel is an unbounded FIFO of batches connecting one stage to the next.
//
// Push never blocks. A Channel supports a single consumer: concurrent Pop
// calls keep the buffer consistent but the order in which they are served
// is unspecified.
type Channel struct {
	mu    sync.Mutex
	buf   []Batch
	ready chan struct{}
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{ready: make(chan struct{}, 1)}
}

// Push appends a batch. Empty batches are dropped.
func (c *Channel) Push(b Batch) {
	if len(b) == 0 {
		return
	}
	c.mu.Lock()
	c.buf = append(c.buf, b)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// TryPop returns the next batch without waiting.
func (c *Channel) TryPop() (Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil, false
	}
	b := c.buf[0]
	c.buf[0] = nil
	c.buf = c.buf[1:]
	return b, true
}

// Ready is signaled after a push. Consumers selecting on it must drain the
// channel with TryPop since several pushes may share one signal.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Pop waits for the next batch.
func (c *Channel) Pop(ctx context.Context) (Batch, error) {
	for {
		if b, ok := c.TryPop(); ok {
			return b, nil
		}
		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of buffered batches.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Map returns a channel fed with fn applied to every batch of c, until ctx
// ends. Panics in fn are reported to onErr and the batch is dropped.
func (c *Channel) Map(ctx context.Context, fn func(Batch) Batch, onErr func(error)) *Channel {
	return c.AsyncMap(ctx, func(_ context.Context, b Batch) (Batch, error) {
		return fn(b), nil
	}, onErr)
}

// AsyncMap is Map for transformations doing I/O. Errors returned by fn are
// reported to onErr and the loop goes on with the next batch.
func (c *Channel) AsyncMap(ctx context.Context, fn func(context.Context, Batch) (Batch, error), onErr func(error)) *Channel {
	out := NewChannel()
	go c.Pipe(ctx, out, fn, onErr)
	return out
}

// Pipe runs the loop behind AsyncMap in the calling goroutine. It returns
// when ctx ends.
func (c *Channel) Pipe(ctx context.Context, out *Channel, fn func(context.Context, Batch) (Batch, error), onErr func(error)) error {
	for {
		b, err := c.Pop(ctx)
		if err != nil {
			return nil
		}
		res, err := apply(ctx, fn, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		out.Push(res)
	}
}

func apply[T any](ctx context.Context, fn func(context.Context, Batch) (T, error), b Batch) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline stage: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, b)
}
