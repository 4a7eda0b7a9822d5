//go:build !ios && !android && (amd64 || arm64)

package inproc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"go.uber.org/zap"
)

type deleter struct {
	fn       hostrt.DeleterFunc
	userData uintptr
}

// Context is an execution context on one device, backed by the device's
// primary context.
type Context struct {
	rt     *Runtime
	device int
	native cuda.Context

	mu       sync.Mutex
	deleters []deleter
	queues   []*Queue
	released bool
}

// NewContext retains the primary context of device.
func (r *Runtime) NewContext(device int) (*Context, error) {
	native, err := r.p.DevicePrimaryCtxRetain(device)
	if err != nil {
		return nil, err
	}
	r.log.Debug("context created", zap.Int("device", device), zap.Stringer("context", native))
	return &Context{rt: r, device: device, native: native}, nil
}

// Native implements hostrt.Context.
func (c *Context) Native() cuda.Context {
	return c.native
}

// Device returns the device ordinal.
func (c *Context) Device() int {
	return c.device
}

// SetExtendedDeleter implements hostrt.Context. On a released context fn
// runs immediately.
func (c *Context) SetExtendedDeleter(fn hostrt.DeleterFunc, userData uintptr) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		fn(userData)
		return
	}
	c.deleters = append(c.deleters, deleter{fn: fn, userData: userData})
	c.mu.Unlock()
}

// Released reports whether Release has been called.
func (c *Context) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// NewQueue creates an in-order queue on a new stream of the context.
func (c *Context) NewQueue() (*Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, fmt.Errorf("%w: %s", ErrContextReleased, c.native)
	}
	s, err := c.rt.p.StreamCreate(c.native)
	if err != nil {
		return nil, err
	}
	q := &Queue{ctx: c, stream: s, id: newID()}
	c.queues = append(c.queues, q)
	c.rt.log.Debug("queue created",
		zap.Stringer("queue", q.id),
		zap.Stringer("context", c.native),
		zap.Stringer("stream", s))
	return q, nil
}

// Release tears the context down: it stops accepting work, waits for work
// already submitted to its queues, runs the registered deleters in
// registration order on the calling goroutine, destroys the queues' streams
// and releases the primary context. Release is idempotent.
//
// Tasks still running when Release starts see a released context: a deleter
// they register runs at once.
func (c *Context) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	queues, dels := c.queues, c.deleters
	c.queues, c.deleters = nil, nil
	c.mu.Unlock()

	for _, q := range queues {
		// Task failures belong to whoever waits on the task's own event.
		_ = q.Wait(context.Background())
	}
	for _, d := range dels {
		d.fn(d.userData)
	}

	var errs []error
	for _, q := range queues {
		if err := c.rt.p.StreamDestroy(c.native, q.stream); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.rt.p.DevicePrimaryCtxRelease(c.device); err != nil {
		errs = append(errs, err)
	}
	c.rt.log.Debug("context released",
		zap.Stringer("context", c.native),
		zap.Int("deleters", len(dels)))
	return errors.Join(errs...)
}

// Queue is an in-order queue: each command group starts only after the
// previous one on the same queue has completed.
type Queue struct {
	ctx    *Context
	stream cuda.Stream
	id     uuid.UUID

	mu   sync.Mutex
	last *Event
}

// Context implements hostrt.Queue.
func (q *Queue) Context() hostrt.Context {
	return q.ctx
}

// NativeStream implements hostrt.Queue.
func (q *Queue) NativeStream() cuda.Stream {
	return q.stream
}

// ID identifies the queue in log output.
func (q *Queue) ID() uuid.UUID {
	return q.id
}

// Submit implements hostrt.Queue. cgf runs synchronously on the caller; the
// task it records runs on a worker once earlier work on q is done. A command
// group with no task completes immediately after its predecessor.
func (q *Queue) Submit(cgf func(hostrt.Handler)) hostrt.Event {
	ev := newEvent()

	h := &handler{}
	cgf(h)
	if h.err != nil {
		ev.complete(h.err)
		return ev
	}

	r := q.ctx.rt
	if !r.admit() {
		ev.complete(ErrRuntimeClosed)
		return ev
	}

	// Ordered against Release under the context lock: a command group is
	// either rejected or visible to Release's wait on q.last.
	q.ctx.mu.Lock()
	if q.ctx.released {
		q.ctx.mu.Unlock()
		r.pending.Done()
		ev.complete(ErrContextReleased)
		return ev
	}
	q.mu.Lock()
	prev := q.last
	q.last = ev
	q.mu.Unlock()
	q.ctx.mu.Unlock()

	go func() {
		defer r.pending.Done()
		if prev != nil {
			<-prev.done
		}
		if h.fn == nil {
			ev.complete(nil)
			return
		}
		r.tasks <- &task{fn: h.fn, custom: h.custom, q: q, ev: ev}
	}()
	return ev
}

// Wait blocks until every command group submitted to q so far has
// completed, and returns the last one's error.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	last := q.last
	q.mu.Unlock()
	if last == nil {
		return nil
	}
	return last.Wait(ctx)
}
