//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"errors"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/internal/bindings"
)

// DriverError is a failed CUDA driver call.
type DriverError = cuda.Error

// LibraryError is a failed cuSPARSE call.
type LibraryError = cusparse.Error

// IndexOverflowError is an index argument outside cuSPARSE's 32-bit range.
type IndexOverflowError = cusparse.IndexOverflowError

// Common errors
var (
	// ErrNotLoaded indicates the CUDA libraries are not loaded.
	ErrNotLoaded = bindings.ErrNotLoaded

	// ErrCacheClosed indicates a HandleCache was used after its worker released it.
	ErrCacheClosed = errors.New("gosparse: handle cache is closed")

	// ErrThreadMismatch indicates a HandleCache was used from an OS thread
	// other than the one that created it.
	ErrThreadMismatch = errors.New("gosparse: handle cache used from a foreign OS thread")

	// ErrHandlerClosed indicates a ScopedContextHandler was used after Close.
	ErrHandlerClosed = errors.New("gosparse: scoped context handler is closed")
)

// IsDriverError reports whether err came from a CUDA driver call.
func IsDriverError(err error) bool {
	var e *cuda.Error
	return errors.As(err, &e)
}

// IsLibraryError reports whether err came from a cuSPARSE call.
func IsLibraryError(err error) bool {
	var e *cusparse.Error
	return errors.As(err, &e)
}
