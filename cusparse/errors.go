//go:build !ios && !android && (amd64 || arm64)

package cusparse

import (
	"errors"
	"fmt"
)

// Status is a cuSPARSE status code (cusparseStatus_t).
type Status int32

// cuSPARSE status codes.
const (
	StatusSuccess                Status = 0
	StatusNotInitialized         Status = 1
	StatusAllocFailed            Status = 2
	StatusInvalidValue           Status = 3
	StatusArchMismatch           Status = 4
	StatusMappingError           Status = 5
	StatusExecutionFailed        Status = 6
	StatusInternalError          Status = 7
	StatusMatrixTypeNotSupported Status = 8
	StatusZeroPivot              Status = 9
	StatusNotSupported           Status = 10
	StatusInsufficientResources  Status = 11
)

var statusNames = map[Status]string{
	StatusSuccess:                "CUSPARSE_STATUS_SUCCESS",
	StatusNotInitialized:         "CUSPARSE_STATUS_NOT_INITIALIZED",
	StatusAllocFailed:            "CUSPARSE_STATUS_ALLOC_FAILED",
	StatusInvalidValue:           "CUSPARSE_STATUS_INVALID_VALUE",
	StatusArchMismatch:           "CUSPARSE_STATUS_ARCH_MISMATCH",
	StatusMappingError:           "CUSPARSE_STATUS_MAPPING_ERROR",
	StatusExecutionFailed:        "CUSPARSE_STATUS_EXECUTION_FAILED",
	StatusInternalError:          "CUSPARSE_STATUS_INTERNAL_ERROR",
	StatusMatrixTypeNotSupported: "CUSPARSE_STATUS_MATRIX_TYPE_NOT_SUPPORTED",
	StatusZeroPivot:              "CUSPARSE_STATUS_ZERO_PIVOT",
	StatusNotSupported:           "CUSPARSE_STATUS_NOT_SUPPORTED",
	StatusInsufficientResources:  "CUSPARSE_STATUS_INSUFFICIENT_RESOURCES",
}

// String returns the library's name for the status, or "<unknown>".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "<unknown>"
}

// Error is a failed cuSPARSE call.
type Error struct {
	Status Status // Raw library status
	Op     string // Library entry point that failed
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s : %s (code %d)", e.Op, e.Status, int32(e.Status))
}

// NewError wraps a library status. Returns nil for StatusSuccess.
func NewError(st Status, op string) error {
	if st == StatusSuccess {
		return nil
	}
	return &Error{Status: st, Op: op}
}

// Code returns the library status carried by err, or StatusSuccess if err is
// not a cuSPARSE error.
func Code(err error) Status {
	var spErr *Error
	if errors.As(err, &spErr) {
		return spErr.Status
	}
	return StatusSuccess
}
