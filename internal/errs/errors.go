// Package errs defines the error taxonomy shared by the scheduler, the
// purchase executor and the checkout machine.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrCheckoutInProgress rejects cart mutations while a checkout holds the lock.
	ErrCheckoutInProgress = errors.New("checkout in progress")

	// ErrCartBusy rejects a checkout while a cart mutation is still running.
	ErrCartBusy = errors.New("cart update in progress")

	// ErrVersionConflict signals a stale optimistic-concurrency token.
	ErrVersionConflict = errors.New("version conflict")

	// ErrBreakerOpen is returned when an outbound client is cooling down.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// ValidationError reports malformed input rejected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps a failed commerce/payment API call.
type ExternalServiceError struct {
	Op      string // e.g. "cart creation"
	Status  int    // HTTP status, 0 for transport errors
	Message string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Op + " failed"
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status=%d): %v", msg, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status=%d)", msg, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func External(op string, err error) *ExternalServiceError {
	return &ExternalServiceError{Op: op, Err: err}
}

// NotFoundError is terminal for the request that hit it.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NoShippingOptionError is returned when a cart has no shipping option.
type NoShippingOptionError struct {
	CartID string
}

func (e *NoShippingOptionError) Error() string {
	return "no shipping option available for cart " + e.CartID
}

// AlreadySucceededError means the provider refused a confirmation because
// the payment had already settled. Callers treat it as success.
type AlreadySucceededError struct {
	PaymentSessionID string
	Message          string
}

func (e *AlreadySucceededError) Error() string {
	if e.Message != "" {
		return "payment already succeeded: " + e.Message
	}
	return "payment already succeeded"
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsExternal also matches NoShippingOptionError and an open breaker, both
// of which originate at the commerce boundary.
func IsExternal(err error) bool {
	var ee *ExternalServiceError
	var ns *NoShippingOptionError
	return errors.As(err, &ee) || errors.As(err, &ns) || errors.Is(err, ErrBreakerOpen)
}

func IsAlreadySucceeded(err error) bool {
	var as *AlreadySucceededError
	return errors.As(err, &as)
}
