package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/hyperjump/vecstore/internal/store"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorValidation        ErrorKind = "validation"
	ErrorConsistency       ErrorKind = "consistency"
	ErrorDimensionMismatch ErrorKind = "dimension_mismatch"
	ErrorIO                ErrorKind = "io"
	ErrorCanceled          ErrorKind = "canceled"
	ErrorInternal          ErrorKind = "internal"
)

// ErrJobNotFound is returned by repositories for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// panicError wraps a value recovered from a panicking job.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Classify maps an error chain to an ErrorKind.
func Classify(err error) ErrorKind {
	var (
		ve  *store.ValidationError
		ce  *store.ConsistencyError
		dme *store.DimensionMismatchError
		pe  *fs.PathError
		pan *panicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pan):
		return ErrorInternal
	case errors.As(err, &ve), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrEmptyIndex):
		return ErrorValidation
	case errors.As(err, &ce):
		return ErrorConsistency
	case errors.As(err, &dme):
		return ErrorDimensionMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCanceled
	case errors.As(err, &pe), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ErrorIO
	default:
		return ErrorInternal
	}
}
