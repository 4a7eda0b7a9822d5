//go:build !ios && !android && (amd64 || arm64)

package cuda

import (
	"errors"
	"fmt"
)

// Result is a CUDA driver API status code (CUresult).
type Result int32

// Driver API status codes.
const (
	Success                   Result = 0
	ErrorInvalidValue         Result = 1
	ErrorOutOfMemory          Result = 2
	ErrorNotInitialized       Result = 3
	ErrorDeinitialized        Result = 4
	ErrorNoDevice             Result = 100
	ErrorInvalidDevice        Result = 101
	ErrorInvalidImage         Result = 200
	ErrorInvalidContext       Result = 201
	ErrorInvalidHandle        Result = 400
	ErrorNotFound             Result = 500
	ErrorNotReady             Result = 600
	ErrorIllegalAddress       Result = 700
	ErrorLaunchOutOfResources Result = 701
	ErrorPrimaryContextActive Result = 708
	ErrorContextIsDestroyed   Result = 709
	ErrorLaunchFailed         Result = 719
	ErrorNotPermitted         Result = 800
	ErrorNotSupported         Result = 801
	ErrorUnknown              Result = 999
)

var resultNames = map[Result]string{
	Success:                   "CUDA_SUCCESS",
	ErrorInvalidValue:         "CUDA_ERROR_INVALID_VALUE",
	ErrorOutOfMemory:          "CUDA_ERROR_OUT_OF_MEMORY",
	ErrorNotInitialized:       "CUDA_ERROR_NOT_INITIALIZED",
	ErrorDeinitialized:        "CUDA_ERROR_DEINITIALIZED",
	ErrorNoDevice:             "CUDA_ERROR_NO_DEVICE",
	ErrorInvalidDevice:        "CUDA_ERROR_INVALID_DEVICE",
	ErrorInvalidImage:         "CUDA_ERROR_INVALID_IMAGE",
	ErrorInvalidContext:       "CUDA_ERROR_INVALID_CONTEXT",
	ErrorInvalidHandle:        "CUDA_ERROR_INVALID_HANDLE",
	ErrorNotFound:             "CUDA_ERROR_NOT_FOUND",
	ErrorNotReady:             "CUDA_ERROR_NOT_READY",
	ErrorIllegalAddress:       "CUDA_ERROR_ILLEGAL_ADDRESS",
	ErrorLaunchOutOfResources: "CUDA_ERROR_LAUNCH_OUT_OF_RESOURCES",
	ErrorPrimaryContextActive: "CUDA_ERROR_PRIMARY_CONTEXT_ACTIVE",
	ErrorContextIsDestroyed:   "CUDA_ERROR_CONTEXT_IS_DESTROYED",
	ErrorLaunchFailed:         "CUDA_ERROR_LAUNCH_FAILED",
	ErrorNotPermitted:         "CUDA_ERROR_NOT_PERMITTED",
	ErrorNotSupported:         "CUDA_ERROR_NOT_SUPPORTED",
	ErrorUnknown:              "CUDA_ERROR_UNKNOWN",
}

// String returns the driver's name for the status, or "<unknown>".
func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "<unknown>"
}

// Error is a failed CUDA driver call.
type Error struct {
	Result Result // Raw driver status
	Op     string // Driver entry point that failed
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s : %s (code %d)", e.Op, e.Result, int32(e.Result))
}

// NewError wraps a driver status. Returns nil for Success.
func NewError(res Result, op string) error {
	if res == Success {
		return nil
	}
	return &Error{Result: res, Op: op}
}

// Code returns the driver status carried by err, or Success if err is not a
// driver error.
func Code(err error) Result {
	var cuErr *Error
	if errors.As(err, &cuErr) {
		return cuErr.Result
	}
	return Success
}

// IsInvalidContext reports whether err is a driver error caused by a context
// that is not, or is no longer, valid.
func IsInvalidContext(err error) bool {
	switch Code(err) {
	case ErrorInvalidContext, ErrorContextIsDestroyed:
		return true
	}
	return false
}
