//go:build !ios && !android && (amd64 || arm64)

// Package hostrt declares the host runtime services gosparse consumes: queues
// bound to an execution context and a native stream, command-group handlers
// that accept host tasks and custom operations, and interop handles that give
// a running task access to its worker's state.
//
// The in-process implementation lives in hostrt/inproc.
package hostrt

import (
	"context"
	"io"

	"github.com/obinnaokechukwu/gosparse/cuda"
)

// DeleterFunc is called by the runtime when an execution context is finally
// torn down, with the user data it was registered with. It may run on any
// goroutine and any OS thread.
type DeleterFunc func(userData uintptr)

// Context is an execution context: one underlying driver context shared by
// every queue created on it.
type Context interface {
	// Native returns the driver context. Equal values identify the same
	// execution context.
	Native() cuda.Context

	// SetExtendedDeleter registers fn to run once, with userData, when the
	// context is torn down. Registrations run in order.
	SetExtendedDeleter(fn DeleterFunc, userData uintptr)
}

// Queue submits work ordered on one native stream of one execution context.
type Queue interface {
	Context() Context
	NativeStream() cuda.Stream

	// Submit runs cgf to build one command group and schedules it.
	Submit(cgf func(Handler)) Event
}

// Handler builds a command group. Exactly one of its task methods should be
// called per command group.
type Handler interface {
	// HostTask runs fn on a host worker thread. The task completes when fn
	// returns; native work fn queued is not waited for.
	HostTask(fn func(InteropHandle) error)

	// EnqueueCustomOperation runs fn on a host worker thread; the runtime
	// considers the operation complete once the queue's stream has drained.
	EnqueueCustomOperation(fn func(InteropHandle) error)
}

// InteropHandle is given to running tasks.
type InteropHandle interface {
	NativeContext() cuda.Context
	NativeStream() cuda.Stream

	// WorkerLocal returns the value stored on the executing worker under key,
	// calling init to create it on first use. The worker closes every value
	// it holds when it exits, on its own thread.
	WorkerLocal(key any, init func() io.Closer) io.Closer
}

// Event tracks completion of a submitted command group.
type Event interface {
	// Wait blocks until the command group completes or ctx is done, and
	// returns the error the task failed with, if any.
	Wait(ctx context.Context) error
}
