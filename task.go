//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"errors"
	"io"
	"runtime"

	"github.com/obinnaokechukwu/gosparse/hostrt"
)

// Work is the body of a deferred task. It runs on a host worker thread with
// the queue's context current and may issue asynchronous cuSPARSE calls on
// handles obtained from sc.
type Work func(sc *ScopedContextHandler) error

// Enqueue adds work to the command group being built by cgh, scheduled on q.
// The scheduling back-end is chosen when the Backend is created; with either
// back-end, the native work issued by work has completed by the time the
// command group's event completes.
//
// Errors returned by work, and driver or library failures around it, fail
// the command group and surface from its event.
func (b *Backend) Enqueue(cgh hostrt.Handler, q hostrt.Queue, work Work) {
	b.scheduler.schedule(b, cgh, q, work)
}

// scheduler submits work bound to a context handler through one of the
// runtime's task primitives.
type scheduler interface {
	backend() TaskBackend
	schedule(b *Backend, cgh hostrt.Handler, q hostrt.Queue, work Work)
}

func newScheduler(t TaskBackend) scheduler {
	if t == CustomOperation {
		return customOperationScheduler{}
	}
	return hostTaskScheduler{}
}

// hostTaskScheduler drains the stream itself: a host task is complete as
// soon as its function returns, whether or not the device is done.
type hostTaskScheduler struct{}

func (hostTaskScheduler) backend() TaskBackend { return HostTask }

func (hostTaskScheduler) schedule(b *Backend, cgh hostrt.Handler, q hostrt.Queue, work Work) {
	cgh.HostTask(func(ih hostrt.InteropHandle) error {
		return b.runScoped(q, ih, work, true)
	})
}

// customOperationScheduler relies on the runtime ordering custom operations
// on the queue's stream.
type customOperationScheduler struct{}

func (customOperationScheduler) backend() TaskBackend { return CustomOperation }

func (customOperationScheduler) schedule(b *Backend, cgh hostrt.Handler, q hostrt.Queue, work Work) {
	cgh.EnqueueCustomOperation(func(ih hostrt.InteropHandle) error {
		return b.runScoped(q, ih, work, false)
	})
}

// runScoped runs work under a handler for q on the worker behind ih. The
// handler is closed on every path out, including a panic in work.
func (b *Backend) runScoped(q hostrt.Queue, ih hostrt.InteropHandle, work Work, drain bool) (err error) {
	sc, err := b.NewScopedContextHandler(q, b.cacheFor(ih))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sc.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := work(sc); err != nil {
		return err
	}
	if drain {
		return sc.WaitStream(q)
	}
	return nil
}

// cacheKey keys a Backend's HandleCache in worker-local storage.
type cacheKey struct{ b *Backend }

// cacheFor returns the HandleCache of the worker running the task, creating
// it on first use. The worker closes it when it exits.
func (b *Backend) cacheFor(ih hostrt.InteropHandle) *HandleCache {
	return ih.WorkerLocal(cacheKey{b}, func() io.Closer {
		return NewHandleCache()
	}).(*HandleCache)
}

// RunLocked runs fn on the calling goroutine locked to its OS thread, with a
// HandleCache owned by that thread. The cache is closed, destroying its
// handles, before RunLocked returns.
//
// Use it to call Backend.NewScopedContextHandler outside a host runtime
// worker.
func RunLocked(fn func(cache *HandleCache) error) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cache := NewHandleCache()
	defer func() {
		if cerr := cache.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(cache)
}
