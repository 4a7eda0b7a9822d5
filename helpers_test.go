//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"github.com/obinnaokechukwu/gosparse/internal/cudatest"
	"go.uber.org/zap/zaptest"
)

func newTestBackend(t *testing.T, opts ...Option) (*cudatest.Fake, *Backend) {
	t.Helper()
	fake := cudatest.New()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return fake, New(fake, fake, opts...)
}

// testContext is a hostrt.Context whose teardown the test triggers by hand.
// While dying is set, deleters run as soon as they are registered, as they do
// on a runtime context that is being released.
type testContext struct {
	native   cuda.Context
	deleters []testDeleter
	dying    bool
}

type testDeleter struct {
	fn hostrt.DeleterFunc
	ud uintptr
}

func (c *testContext) Native() cuda.Context { return c.native }

func (c *testContext) SetExtendedDeleter(fn hostrt.DeleterFunc, ud uintptr) {
	if c.dying {
		fn(ud)
		return
	}
	c.deleters = append(c.deleters, testDeleter{fn, ud})
}

// teardown runs the registered deleters, as a runtime does when the context
// is destroyed.
func (c *testContext) teardown() {
	dels := c.deleters
	c.deleters = nil
	for _, d := range dels {
		d.fn(d.ud)
	}
}

// testQueue is a hostrt.Queue that runs nothing on its own; tests drive
// tasks through testHandler.
type testQueue struct {
	ctx    *testContext
	stream cuda.Stream
}

func (q *testQueue) Context() hostrt.Context   { return q.ctx }
func (q *testQueue) NativeStream() cuda.Stream { return q.stream }

func (q *testQueue) Submit(cgf func(hostrt.Handler)) hostrt.Event {
	h := &testHandler{q: q}
	cgf(h)
	return doneEvent{h.run()}
}

func newTestQueue(fake *cudatest.Fake, ctx *testContext) *testQueue {
	return &testQueue{ctx: ctx, stream: fake.NewStream(ctx.native)}
}

func newTestContext(fake *cudatest.Fake) *testContext {
	return &testContext{native: fake.NewContext()}
}

// testHandler records which task primitive was used and runs the task
// synchronously on the calling goroutine, which must be locked to its thread.
type testHandler struct {
	q      *testQueue
	kind   string
	fn     func(hostrt.InteropHandle) error
	locals *testLocals
}

func (h *testHandler) HostTask(fn func(hostrt.InteropHandle) error) {
	h.kind, h.fn = "host_task", fn
}

func (h *testHandler) EnqueueCustomOperation(fn func(hostrt.InteropHandle) error) {
	h.kind, h.fn = "custom_operation", fn
}

func (h *testHandler) run() error {
	if h.fn == nil {
		return errors.New("no task")
	}
	locals := h.locals
	if locals == nil {
		locals = &testLocals{}
		defer locals.close()
	}
	return h.fn(&testInterop{q: h.q, locals: locals})
}

type doneEvent struct{ err error }

func (e doneEvent) Wait(context.Context) error { return e.err }

// testLocals is worker-local storage for a single simulated worker.
type testLocals struct {
	values map[any]io.Closer
}

func (l *testLocals) get(key any, init func() io.Closer) io.Closer {
	if v, ok := l.values[key]; ok {
		return v
	}
	if l.values == nil {
		l.values = make(map[any]io.Closer)
	}
	v := init()
	l.values[key] = v
	return v
}

func (l *testLocals) close() error {
	var errs []error
	for _, v := range l.values {
		errs = append(errs, v.Close())
	}
	l.values = nil
	return errors.Join(errs...)
}

type testInterop struct {
	q      *testQueue
	locals *testLocals
}

func (ih *testInterop) NativeContext() cuda.Context { return ih.q.ctx.native }
func (ih *testInterop) NativeStream() cuda.Stream   { return ih.q.stream }

func (ih *testInterop) WorkerLocal(key any, init func() io.Closer) io.Closer {
	return ih.locals.get(key, init)
}

// withHandle runs fn under a scoped handler for q on a locked thread with a
// fresh cache. The cache is closed when withHandle returns.
func withHandle(t *testing.T, b *Backend, q *testQueue, fn func(sc *ScopedContextHandler, cache *HandleCache)) {
	t.Helper()
	err := RunLocked(func(cache *HandleCache) error {
		sc, err := b.NewScopedContextHandler(q, cache)
		if err != nil {
			return err
		}
		defer sc.Close()
		fn(sc, cache)
		return nil
	})
	if err != nil {
		t.Fatalf("RunLocked: %v", err)
	}
}
