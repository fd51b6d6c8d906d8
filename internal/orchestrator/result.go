package orchestrator

import (
	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

// Failure is the error variant of a Result
type Failure struct {
	Code     errors.ErrorCode `json:"code"`
	Message  string           `json:"message"`
	Attempts int              `json:"attempts"`
	Err      *errors.AppError `json:"-"`
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is either a Success carrying a value or a Failure carrying a
// taxonomy code. Attempts counts external attempts made; a cache hit
// reports zero.
type Result[T any] struct {
	value    T
	attempts int
	cached   bool
	failure  *Failure
}

// Success builds a successful result
func Success[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

// Cached builds a successful result served from the response cache
func Cached[T any](value T) Result[T] {
	return Result[T]{value: value, cached: true}
}

// Fail builds a failed result from an application error
func Fail[T any](err *errors.AppError) Result[T] {
	return Result[T]{
		attempts: err.Attempts,
		failure: &Failure{
			Code:     err.Code,
			Message:  err.Message,
			Attempts: err.Attempts,
			Err:      err,
		},
	}
}

// Ok reports whether the result is a success
func (r Result[T]) Ok() bool {
	return r.failure == nil
}

// Value returns the success value, or the zero value on failure
func (r Result[T]) Value() T {
	return r.value
}

// Failure returns the failure, or nil on success
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Attempts returns the number of external attempts made
func (r Result[T]) Attempts() int {
	return r.attempts
}

// FromCache reports whether the value came from the response cache
func (r Result[T]) FromCache() bool {
	return r.cached
}

// Unwrap converts the result to Go's value, error convention
func (r Result[T]) Unwrap() (T, error) {
	if r.failure != nil {
		return r.value, r.failure.Err
	}
	return r.value, nil
}

// failAs carries a failure over to another result type
func failAs[T, U any](r Result[U]) Result[T] {
	return Fail[T](r.failure.Err)
}
