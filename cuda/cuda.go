//go:build !ios && !android && (amd64 || arm64)

// Package cuda provides bindings to the subset of the CUDA driver API that
// gosparse needs: per-thread current context management, primary contexts and
// streams.
//
// Functions are bound with purego at Open time; no cgo is involved.
package cuda

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/gosparse/internal/bindings"
)

// Context is an opaque CUcontext. The zero value means "no context".
type Context uintptr

// String formats the context for logs.
func (c Context) String() string {
	return fmt.Sprintf("ctx(0x%x)", uintptr(c))
}

// Stream is an opaque CUstream. The zero value is the legacy default stream.
type Stream uintptr

// String formats the stream for logs.
func (s Stream) String() string {
	return fmt.Sprintf("stream(0x%x)", uintptr(s))
}

// Stream creation flags.
const (
	StreamDefault     uint32 = 0x0
	StreamNonBlocking uint32 = 0x1
)

// Function bindings - registered once by Open
var (
	cuInit                    func(flags uint32) Result
	cuDriverGetVersion        func(version *int32) Result
	cuDeviceGetCount          func(count *int32) Result
	cuDeviceGet               func(device *int32, ordinal int32) Result
	cuDevicePrimaryCtxRetain  func(pctx *uintptr, device int32) Result
	cuDevicePrimaryCtxRelease func(device int32) Result
	cuCtxGetCurrent           func(pctx *uintptr) Result
	cuCtxSetCurrent           func(ctx uintptr) Result
	cuStreamCreate            func(phStream *uintptr, flags uint32) Result
	cuStreamDestroy           func(hStream uintptr) Result
	cuStreamSynchronize       func(hStream uintptr) Result

	registerOnce sync.Once
	registerErr  error
)

func registerBindings() error {
	registerOnce.Do(func() {
		if err := bindings.Load(); err != nil {
			registerErr = err
			return
		}
		lib := bindings.LibCUDA()

		purego.RegisterLibFunc(&cuInit, lib, "cuInit")
		purego.RegisterLibFunc(&cuDriverGetVersion, lib, "cuDriverGetVersion")
		purego.RegisterLibFunc(&cuDeviceGetCount, lib, "cuDeviceGetCount")
		purego.RegisterLibFunc(&cuDeviceGet, lib, "cuDeviceGet")
		purego.RegisterLibFunc(&cuDevicePrimaryCtxRetain, lib, "cuDevicePrimaryCtxRetain")
		// The unsuffixed names are the pre-CUDA 11 ABI.
		purego.RegisterLibFunc(&cuDevicePrimaryCtxRelease, lib, "cuDevicePrimaryCtxRelease_v2")
		purego.RegisterLibFunc(&cuCtxGetCurrent, lib, "cuCtxGetCurrent")
		purego.RegisterLibFunc(&cuCtxSetCurrent, lib, "cuCtxSetCurrent")
		purego.RegisterLibFunc(&cuStreamCreate, lib, "cuStreamCreate")
		purego.RegisterLibFunc(&cuStreamDestroy, lib, "cuStreamDestroy_v2")
		purego.RegisterLibFunc(&cuStreamSynchronize, lib, "cuStreamSynchronize")
	})
	return registerErr
}

// Driver is the CUDA driver API bound through purego.
//
// The current context is per OS thread: callers that rely on a context set
// with CtxSetCurrent must keep their goroutine locked to its thread.
type Driver struct{}

var (
	initOnce sync.Once
	initErr  error
)

// Open loads the driver library, binds its functions and initializes the
// driver. Safe to call multiple times.
func Open() (*Driver, error) {
	if err := registerBindings(); err != nil {
		return nil, err
	}
	initOnce.Do(func() {
		initErr = NewError(cuInit(0), "cuInit")
	})
	if initErr != nil {
		return nil, initErr
	}
	return &Driver{}, nil
}

// Version returns the driver version as 1000*major + 10*minor.
func (d *Driver) Version() (int, error) {
	var v int32
	if err := NewError(cuDriverGetVersion(&v), "cuDriverGetVersion"); err != nil {
		return 0, err
	}
	return int(v), nil
}

// DeviceCount returns the number of CUDA devices.
func (d *Driver) DeviceCount() (int, error) {
	var n int32
	if err := NewError(cuDeviceGetCount(&n), "cuDeviceGetCount"); err != nil {
		return 0, err
	}
	return int(n), nil
}

// CtxGetCurrent returns the context current on the calling thread, or 0.
func (d *Driver) CtxGetCurrent() (Context, error) {
	var ctx uintptr
	if err := NewError(cuCtxGetCurrent(&ctx), "cuCtxGetCurrent"); err != nil {
		return 0, err
	}
	return Context(ctx), nil
}

// CtxSetCurrent binds ctx to the calling thread. A zero ctx unbinds.
func (d *Driver) CtxSetCurrent(ctx Context) error {
	return NewError(cuCtxSetCurrent(uintptr(ctx)), "cuCtxSetCurrent")
}

// StreamSynchronize blocks until all work queued on s has completed.
func (d *Driver) StreamSynchronize(s Stream) error {
	return NewError(cuStreamSynchronize(uintptr(s)), "cuStreamSynchronize")
}

// DevicePrimaryCtxRetain retains the primary context of the device with the
// given ordinal. Each successful call must be paired with
// DevicePrimaryCtxRelease.
func (d *Driver) DevicePrimaryCtxRetain(ordinal int) (Context, error) {
	var dev int32
	if err := NewError(cuDeviceGet(&dev, int32(ordinal)), "cuDeviceGet"); err != nil {
		return 0, err
	}
	var ctx uintptr
	if err := NewError(cuDevicePrimaryCtxRetain(&ctx, dev), "cuDevicePrimaryCtxRetain"); err != nil {
		return 0, err
	}
	return Context(ctx), nil
}

// DevicePrimaryCtxRelease releases one reference to the device's primary context.
func (d *Driver) DevicePrimaryCtxRelease(ordinal int) error {
	var dev int32
	if err := NewError(cuDeviceGet(&dev, int32(ordinal)), "cuDeviceGet"); err != nil {
		return err
	}
	return NewError(cuDevicePrimaryCtxRelease(dev), "cuDevicePrimaryCtxRelease")
}

// StreamCreate creates a non-blocking stream in ctx. The calling thread's
// current context is left as it was.
func (d *Driver) StreamCreate(ctx Context) (s Stream, err error) {
	err = d.withContext(ctx, func() error {
		var h uintptr
		if err := NewError(cuStreamCreate(&h, StreamNonBlocking), "cuStreamCreate"); err != nil {
			return err
		}
		s = Stream(h)
		return nil
	})
	return s, err
}

// StreamDestroy destroys s in ctx. Pending work on s still completes.
func (d *Driver) StreamDestroy(ctx Context, s Stream) error {
	return d.withContext(ctx, func() error {
		return NewError(cuStreamDestroy(uintptr(s)), "cuStreamDestroy")
	})
}

// withContext runs fn with ctx current on a locked thread and restores the
// previous context afterwards.
func (d *Driver) withContext(ctx Context, fn func() error) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	prev, err := d.CtxGetCurrent()
	if err != nil {
		return err
	}
	if prev != ctx {
		if err := d.CtxSetCurrent(ctx); err != nil {
			return err
		}
		defer func() {
			if rerr := d.CtxSetCurrent(prev); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}
	return fn()
}
