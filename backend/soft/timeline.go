package soft

import (
	"context"
	"sync"

	"github.com/gogpu/banding/internal/gpucore"
)

// op is one unit of work on the timeline: a command stream, a fence
// signal or a present.
type op struct {
	stream  *gpucore.CommandStream
	fence   *fence
	value   uint64
	present *presentOp
}

type timeline struct {
	dev *Device

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []op
	paused bool
	closed bool
	done   chan struct{}
}

func newTimeline(d *Device) *timeline {
	t := &timeline{dev: d, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *timeline) push(o op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.ops = append(t.ops, o)
	t.cond.Signal()
	return nil
}

func (t *timeline) setPaused(p bool) {
	t.mu.Lock()
	t.paused = p
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *timeline) close() {
	t.mu.Lock()
	t.closed = true
	t.paused = false
	t.mu.Unlock()
	t.cond.Broadcast()
	<-t.done
}

func (t *timeline) next() (op, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for (len(t.ops) == 0 || t.paused) && !t.closed {
		t.cond.Wait()
	}
	if len(t.ops) == 0 {
		return op{}, false
	}
	o := t.ops[0]
	t.ops[0] = op{}
	t.ops = t.ops[1:]
	return o, true
}

func (t *timeline) run() {
	defer close(t.done)
	for {
		o, ok := t.next()
		if !ok {
			return
		}
		if t.dev.RemovedReason() != nil {
			// A removed device retires nothing; waiters observe the loss.
			if o.present != nil {
				o.present.done <- t.dev.RemovedReason()
			}
			continue
		}
		switch {
		case o.stream != nil:
			if err := t.dev.execute(o.stream); err != nil {
				t.dev.remove(err)
			}
		case o.fence != nil:
			o.fence.signal(o.value)
		case o.present != nil:
			o.present.done <- o.present.run(t.dev)
		}
	}
}

// fence is a monotonically advancing counter with broadcast wakeups.
type fence struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func newFence(initial uint64) *fence {
	return &fence{value: initial, changed: make(chan struct{})}
}

func (f *fence) signal(v uint64) {
	f.mu.Lock()
	f.value = v
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

func (f *fence) completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fence) wait(ctx context.Context, v uint64, lost <-chan struct{}, reason func() error) error {
	for {
		f.mu.Lock()
		if f.value >= v {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-lost:
			return reason()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
