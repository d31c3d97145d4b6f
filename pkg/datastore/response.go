package datastore

import (
	"errors"
	"fmt"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/logger"
)

// FaultKind classifies a failed operation.
type FaultKind string

const (
	FaultConnection    FaultKind = "connection"
	FaultValidation    FaultKind = "validation"
	FaultUnsupported   FaultKind = "capability_unsupported"
	FaultConfiguration FaultKind = "configuration"
	FaultNotFound      FaultKind = "not_found"
	FaultInternal      FaultKind = "internal"
)

// Fault describes why an operation failed.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`

	err error
}

func (f *Fault) Error() string { return string(f.Kind) + ": " + f.Message }

// Unwrap returns the underlying error so errors.Is/As keep working.
func (f *Fault) Unwrap() error { return f.err }

// Response is the uniform result of every Store operation. Exactly one of
// Data and Error is meaningful, as indicated by Success. Degraded is set
// when a hybrid read was served by the secondary store.
type Response[T any] struct {
	Success  bool   `json:"success"`
	Data     T      `json:"data,omitempty"`
	Error    *Fault `json:"error,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Err returns the fault as an error, or nil on success.
func (r Response[T]) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Unwrap returns Data and the fault.
func (r Response[T]) Unwrap() (T, error) {
	return r.Data, r.Err()
}

func succeed[T any](data T, degraded bool) Response[T] {
	return Response[T]{Success: true, Data: data, Degraded: degraded}
}

func fail[T any](err error) Response[T] {
	return Response[T]{Error: newFault(err)}
}

func newFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: classify(err), Message: err.Error(), err: err}
}

func classify(err error) FaultKind {
	switch {
	case adapter.IsValidationError(err):
		return FaultValidation
	case adapter.IsUnsupported(err):
		return FaultUnsupported
	case adapter.IsConnectionError(err):
		return FaultConnection
	case adapter.IsConfigurationError(err):
		return FaultConfiguration
	case adapter.IsNotFound(err):
		return FaultNotFound
	}
	return FaultInternal
}

// guard runs fn and converts its outcome, including panics, into a
// Response.
func guard[T any](log *logger.Logger, op string, fn func() (T, bool, error)) (resp Response[T]) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic in %s: %v", op, r)
			resp = Response[T]{Error: &Fault{
				Kind:    FaultInternal,
				Message: fmt.Sprintf("%s: unexpected failure: %v", op, r),
			}}
		}
	}()

	data, degraded, err := fn()
	if err != nil {
		log.Debugf("%s failed: %v", op, err)
		return fail[T](err)
	}
	return succeed(data, degraded)
}
