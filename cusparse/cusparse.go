//go:build !ios && !android && (amd64 || arm64)

// Package cusparse provides bindings to the cuSPARSE handle API: handle
// creation and destruction, stream binding and version queries.
//
// Numerical routines are not bound here; they take a Handle obtained through
// gosparse.ScopedContextHandler.
package cusparse

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/internal/bindings"
)

// Handle is an opaque cusparseHandle_t. The zero value means "no handle".
type Handle uintptr

// String formats the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("cusparse(0x%x)", uintptr(h))
}

// Property selects a library property for Library.Property.
type Property int32

// libraryPropertyType values.
const (
	MajorVersion Property = 0
	MinorVersion Property = 1
	PatchLevel   Property = 2
)

// Function bindings - registered once by Open
var (
	cusparseCreate      func(handle *uintptr) Status
	cusparseDestroy     func(handle uintptr) Status
	cusparseSetStream   func(handle uintptr, stream uintptr) Status
	cusparseGetStream   func(handle uintptr, stream *uintptr) Status
	cusparseGetVersion  func(handle uintptr, version *int32) Status
	cusparseGetProperty func(prop int32, value *int32) Status

	registerOnce sync.Once
	registerErr  error
)

func registerBindings() error {
	registerOnce.Do(func() {
		if err := bindings.Load(); err != nil {
			registerErr = err
			return
		}
		lib := bindings.LibCUSPARSE()

		purego.RegisterLibFunc(&cusparseCreate, lib, "cusparseCreate")
		purego.RegisterLibFunc(&cusparseDestroy, lib, "cusparseDestroy")
		purego.RegisterLibFunc(&cusparseSetStream, lib, "cusparseSetStream")
		purego.RegisterLibFunc(&cusparseGetStream, lib, "cusparseGetStream")
		purego.RegisterLibFunc(&cusparseGetVersion, lib, "cusparseGetVersion")
		purego.RegisterLibFunc(&cusparseGetProperty, lib, "cusparseGetProperty")
	})
	return registerErr
}

// Library is cuSPARSE bound through purego.
//
// Create, SetStream and the numerical routines must run with the handle's
// context current on the calling thread.
type Library struct{}

// Open loads cuSPARSE and binds its handle functions. Safe to call multiple times.
func Open() (*Library, error) {
	if err := registerBindings(); err != nil {
		return nil, err
	}
	return &Library{}, nil
}

// Create allocates a handle in the context current on the calling thread.
func (l *Library) Create() (Handle, error) {
	var h uintptr
	if err := NewError(cusparseCreate(&h), "cusparseCreate"); err != nil {
		return 0, err
	}
	return Handle(h), nil
}

// Destroy releases h. h must not be used afterwards.
func (l *Library) Destroy(h Handle) error {
	return NewError(cusparseDestroy(uintptr(h)), "cusparseDestroy")
}

// SetStream binds h to s; subsequent routines on h are queued on s.
func (l *Library) SetStream(h Handle, s cuda.Stream) error {
	return NewError(cusparseSetStream(uintptr(h), uintptr(s)), "cusparseSetStream")
}

// GetStream returns the stream h is bound to.
func (l *Library) GetStream(h Handle) (cuda.Stream, error) {
	var s uintptr
	if err := NewError(cusparseGetStream(uintptr(h), &s), "cusparseGetStream"); err != nil {
		return 0, err
	}
	return cuda.Stream(s), nil
}

// Version returns the library version reported through h.
func (l *Library) Version(h Handle) (int, error) {
	var v int32
	if err := NewError(cusparseGetVersion(uintptr(h), &v), "cusparseGetVersion"); err != nil {
		return 0, err
	}
	return int(v), nil
}

// Property returns a library property; it needs no handle or context.
func (l *Library) Property(p Property) (int, error) {
	var v int32
	if err := NewError(cusparseGetProperty(int32(p), &v), "cusparseGetProperty"); err != nil {
		return 0, err
	}
	return int(v), nil
}
