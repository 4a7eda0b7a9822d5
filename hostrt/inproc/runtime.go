//go:build !ios && !android && (amd64 || arm64)

// Package inproc is an in-process host runtime: a fixed pool of worker
// goroutines, each locked to its own OS thread, running command groups
// submitted to in-order queues.
//
// It provides what gosparse needs from a runtime and nothing more. Each
// worker owns worker-local storage that it closes on its own thread when the
// runtime shuts down, and each Context runs its registered deleters when it
// is released.
package inproc

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/envconfig"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRuntimeClosed is returned for work submitted after Close.
	ErrRuntimeClosed = errors.New("inproc: runtime is closed")

	// ErrContextReleased is returned for work submitted to a queue whose
	// context has been released.
	ErrContextReleased = errors.New("inproc: context is released")
)

// Provider is the driver API the runtime uses to back contexts and queues.
// *cuda.Driver implements it.
type Provider interface {
	DevicePrimaryCtxRetain(ordinal int) (cuda.Context, error)
	DevicePrimaryCtxRelease(ordinal int) error
	StreamCreate(ctx cuda.Context) (cuda.Stream, error)
	StreamDestroy(ctx cuda.Context, s cuda.Stream) error
	StreamSynchronize(s cuda.Stream) error
}

// Runtime schedules command groups onto its workers.
type Runtime struct {
	p       Provider
	log     *zap.Logger
	workers int

	tasks   chan *task
	g       errgroup.Group
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithWorkers sets the number of worker threads. The default comes from
// GOSPARSE_WORKERS.
func WithWorkers(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// New starts a runtime backed by p.
func New(p Provider, opts ...Option) *Runtime {
	r := &Runtime{
		p:       p,
		log:     zap.L(),
		workers: int(envconfig.Workers()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tasks = make(chan *task)
	for i := 0; i < r.workers; i++ {
		w := &worker{id: i, rt: r}
		r.g.Go(w.loop)
	}
	r.log.Debug("runtime started", zap.Int("workers", r.workers))
	return r
}

// Workers returns the number of worker threads.
func (r *Runtime) Workers() int {
	return r.workers
}

// Close waits for submitted work to finish, then stops the workers. Each
// worker closes its worker-local values before exiting; their errors are
// returned joined. Close is idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.pending.Wait()
	close(r.tasks)
	err := r.g.Wait()
	r.log.Debug("runtime stopped", zap.Error(err))
	return err
}

// admit reserves a slot for one more submission, or reports that the
// runtime is closed.
func (r *Runtime) admit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.pending.Add(1)
	return true
}

type task struct {
	fn     func(hostrt.InteropHandle) error
	custom bool
	q      *Queue
	ev     *Event
}

type worker struct {
	id     int
	rt     *Runtime
	locals map[any]io.Closer
	order  []any
}

func (w *worker) loop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for t := range w.rt.tasks {
		w.run(t)
	}
	return w.closeLocals()
}

func (w *worker) run(t *task) {
	ih := &interop{w: w, q: t.q}
	err := w.call(t.fn, ih)
	if err == nil && t.custom {
		err = w.rt.p.StreamSynchronize(t.q.stream)
	}
	if err != nil {
		w.rt.log.Debug("task failed",
			zap.Int("worker", w.id),
			zap.Stringer("queue", t.q.id),
			zap.Stringer("event", t.ev.id),
			zap.Error(err))
	}
	t.ev.complete(err)
}

func (w *worker) call(fn func(hostrt.InteropHandle) error, ih hostrt.InteropHandle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("inproc: task panicked: %v", p)
		}
	}()
	return fn(ih)
}

func (w *worker) local(key any, init func() io.Closer) io.Closer {
	if v, ok := w.locals[key]; ok {
		return v
	}
	if w.locals == nil {
		w.locals = make(map[any]io.Closer)
	}
	v := init()
	w.locals[key] = v
	w.order = append(w.order, key)
	return v
}

// closeLocals closes worker-local values newest first.
func (w *worker) closeLocals() error {
	var errs []error
	for i := len(w.order) - 1; i >= 0; i-- {
		if err := w.locals[w.order[i]].Close(); err != nil {
			w.rt.log.Error("closing worker-local value",
				zap.Int("worker", w.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	w.locals, w.order = nil, nil
	return errors.Join(errs...)
}

type interop struct {
	w *worker
	q *Queue
}

func (ih *interop) NativeContext() cuda.Context { return ih.q.ctx.native }
func (ih *interop) NativeStream() cuda.Stream   { return ih.q.stream }

func (ih *interop) WorkerLocal(key any, init func() io.Closer) io.Closer {
	return ih.w.local(key, init)
}

// handler records the single task of a command group.
type handler struct {
	fn     func(hostrt.InteropHandle) error
	custom bool
	err    error
}

func (h *handler) set(fn func(hostrt.InteropHandle) error, custom bool) {
	if h.fn != nil {
		h.err = errors.New("inproc: command group already has a task")
		return
	}
	h.fn, h.custom = fn, custom
}

func (h *handler) HostTask(fn func(hostrt.InteropHandle) error) { h.set(fn, false) }

func (h *handler) EnqueueCustomOperation(fn func(hostrt.InteropHandle) error) { h.set(fn, true) }

func newID() uuid.UUID {
	return uuid.New()
}
