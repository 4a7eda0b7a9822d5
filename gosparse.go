//go:build !ios && !android && (amd64 || arm64)

// Package gosparse manages cuSPARSE handles for tasks running on a queue-based
// host runtime.
//
// A task obtains a ScopedContextHandler, which makes the task queue's CUDA
// context current on the worker thread for its lifetime and hands out the
// worker's cached cuSPARSE handle for that context, bound to the queue's
// stream. Handles are cached per worker thread and per context and are
// destroyed exactly once: either when the worker exits or when the runtime
// tears the context down, whichever comes first.
//
// Most callers use Backend.Enqueue:
//
//	b, err := gosparse.Open()
//	...
//	ev := q.Submit(func(cgh hostrt.Handler) {
//		b.Enqueue(cgh, q, func(sc *gosparse.ScopedContextHandler) error {
//			h, err := sc.Handle(q)
//			if err != nil {
//				return err
//			}
//			// call cuSPARSE routines with h
//			return nil
//		})
//	})
//	err = ev.Wait(ctx)
package gosparse

import (
	"sync/atomic"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/envconfig"
	"github.com/obinnaokechukwu/gosparse/internal/bindings"
	"go.uber.org/zap"
)

// Driver is the part of the CUDA driver API the core calls.
// *cuda.Driver implements it.
type Driver interface {
	CtxGetCurrent() (cuda.Context, error)
	CtxSetCurrent(ctx cuda.Context) error
	StreamSynchronize(s cuda.Stream) error
}

// NativeLibrary is the handle API of the math library.
// *cusparse.Library implements it.
type NativeLibrary interface {
	Create() (cusparse.Handle, error)
	Destroy(h cusparse.Handle) error
	SetStream(h cusparse.Handle, s cuda.Stream) error
	GetStream(h cusparse.Handle) (cuda.Stream, error)
}

// TaskBackend selects how Enqueue schedules work on the host runtime.
type TaskBackend int

const (
	// HostTask submits a host task and drains the queue's stream after the
	// work returns, so the task completes only once its native work has.
	HostTask TaskBackend = iota

	// CustomOperation submits a custom operation; the runtime orders it on
	// the queue's stream and no extra drain is issued.
	CustomOperation
)

// String returns the configuration name of the back-end.
func (t TaskBackend) String() string {
	switch t {
	case HostTask:
		return envconfig.BackendHostTask
	case CustomOperation:
		return envconfig.BackendCustomOperation
	default:
		return "unknown"
	}
}

// ParseTaskBackend parses a GOSPARSE_TASK_BACKEND value.
func ParseTaskBackend(s string) (TaskBackend, bool) {
	switch s {
	case envconfig.BackendHostTask:
		return HostTask, true
	case envconfig.BackendCustomOperation:
		return CustomOperation, true
	}
	return HostTask, false
}

// Backend ties the driver and library bindings together with the logger and
// scheduling back-end used by every handler it creates. A Backend is safe
// for concurrent use; its per-thread state lives in HandleCaches.
type Backend struct {
	driver    Driver
	lib       NativeLibrary
	log       *zap.Logger
	scheduler scheduler
	stats     stats
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default is the package Logger().
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// WithTaskBackend overrides the GOSPARSE_TASK_BACKEND setting.
func WithTaskBackend(t TaskBackend) Option {
	return func(b *Backend) {
		b.scheduler = newScheduler(t)
	}
}

// New creates a Backend over the given driver and library.
func New(d Driver, lib NativeLibrary, opts ...Option) *Backend {
	tb, _ := ParseTaskBackend(envconfig.TaskBackend())
	b := &Backend{
		driver:    d,
		lib:       lib,
		log:       Logger(),
		scheduler: newScheduler(tb),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open loads the CUDA driver and cuSPARSE and returns a Backend using them.
func Open(opts ...Option) (*Backend, error) {
	d, err := cuda.Open()
	if err != nil {
		return nil, err
	}
	lib, err := cusparse.Open()
	if err != nil {
		return nil, err
	}
	return New(d, lib, opts...), nil
}

// Init loads the CUDA libraries without creating a Backend. It is safe to
// call multiple times and reports why loading failed.
func Init() error {
	return bindings.Load()
}

// IsLoaded returns true if the CUDA libraries have been successfully loaded.
func IsLoaded() bool {
	return bindings.IsLoaded()
}

// TaskBackend returns the scheduling back-end Enqueue uses.
func (b *Backend) TaskBackend() TaskBackend {
	return b.scheduler.backend()
}

// Stats is a snapshot of a Backend's lifecycle counters.
type Stats struct {
	HandlesCreated   int64 // cuSPARSE handles created
	HandlesDestroyed int64 // handles destroyed, by either owner; failed destroys excluded
	StreamRebinds    int64 // cached handles moved to another stream
	ContextSwitches  int64 // handlers that changed the current context
	ContextRestores  int64 // handlers that restored a previous context
	CallbacksFired   int64 // context-destruction callbacks run
}

type stats struct {
	handlesCreated   atomic.Int64
	handlesDestroyed atomic.Int64
	streamRebinds    atomic.Int64
	contextSwitches  atomic.Int64
	contextRestores  atomic.Int64
	callbacksFired   atomic.Int64
}

// Stats returns the current counters.
func (b *Backend) Stats() Stats {
	return Stats{
		HandlesCreated:   b.stats.handlesCreated.Load(),
		HandlesDestroyed: b.stats.handlesDestroyed.Load(),
		StreamRebinds:    b.stats.streamRebinds.Load(),
		ContextSwitches:  b.stats.contextSwitches.Load(),
		ContextRestores:  b.stats.contextRestores.Load(),
		CallbacksFired:   b.stats.callbacksFired.Load(),
	}
}

// Re-exported index guard, so routines built on gosparse need only one import.
var (
	// ErrIndexOverflow matches every index overflow error.
	ErrIndexOverflow = cusparse.ErrIndexOverflow
)

// CheckOverflow fails if any index does not fit cuSPARSE's 32-bit indices.
func CheckOverflow(indices ...int64) error {
	return cusparse.CheckOverflow(indices...)
}
