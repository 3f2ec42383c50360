package gateway

import (
	"errors"
	"fmt"

	"github.com/nimbus-lab/nimbus/pkg/metrics"
)

type ErrorKind int

const (
	// KindUnavailable covers transport failures and 5xx answers: the call may
	// or may not have taken effect.
	KindUnavailable ErrorKind = iota
	// KindRejected covers 4xx answers: the backend understood and refused.
	KindRejected
)

type BackendError struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Kind == KindUnavailable {
		return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend rejected %s: %s", e.Op, e.Reason)
}

func (e *BackendError) Unwrap() error { return e.Err }

func Unavailable(op string, err error) error {
	metrics.GatewayFailures.WithLabelValues(op, "unavailable").Inc()
	return &BackendError{Kind: KindUnavailable, Op: op, Err: err}
}

func Rejected(op, reason string) error {
	metrics.GatewayFailures.WithLabelValues(op, "rejected").Inc()
	return &BackendError{Kind: KindRejected, Op: op, Reason: reason}
}

func IsUnavailable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindUnavailable
}

func IsRejected(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindRejected
}
