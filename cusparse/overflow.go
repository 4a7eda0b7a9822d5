//go:build !ios && !android && (amd64 || arm64)

package cusparse

import (
	"errors"
	"fmt"
)

// ErrIndexOverflow is matched by every *IndexOverflowError.
var ErrIndexOverflow = errors.New("cusparse index overflow")

// MaxIndex is the largest magnitude a 32-bit cuSPARSE index may carry.
const MaxIndex = 1<<31 - 1

// IndexOverflowError reports an index or size argument that does not fit the
// library's 32-bit index type.
type IndexOverflowError struct {
	Arg   int   // Position of the offending argument in the checked list
	Value int64 // The offending value
}

// Error implements the error interface.
func (e *IndexOverflowError) Error() string {
	return fmt.Sprintf("cusparse index overflow: argument %d is %d; cusparse does not support 64 bit "+
		"integers as data size, so sizes must fit in a 32 bit integer", e.Arg, e.Value)
}

// Is makes errors.Is(err, ErrIndexOverflow) hold.
func (e *IndexOverflowError) Is(target error) bool {
	return target == ErrIndexOverflow
}

// CheckOverflow returns an *IndexOverflowError for the first value whose
// magnitude is 2^31 or more. Call it before handing the values to any library
// function; values are never truncated.
//
// Index arguments are int64 throughout the public API, which the variadic
// parameter type enforces at compile time.
func CheckOverflow(indices ...int64) error {
	for i, v := range indices {
		// Written without abs so that math.MinInt64 is handled.
		if v > MaxIndex || v < -MaxIndex {
			return &IndexOverflowError{Arg: i, Value: v}
		}
	}
	return nil
}
