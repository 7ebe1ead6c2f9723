package types

import (
	"errors"
	"fmt"
)

// Connection errors. These are fatal to the session and are never
// retried internally.
var (
	// ErrUnreachable is returned when the node's socket cannot be opened.
	ErrUnreachable = errors.New("node unreachable")

	// ErrHandshakeFailed is returned when the remote does not present the
	// expected root interface during connection setup.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrClosed is returned when an operation is attempted on a session
	// that has been disconnected.
	ErrClosed = errors.New("session closed")
)

// Resolution errors.
var (
	// ErrUnsupported is returned when the node does not expose a requested
	// sub-interface. Callers may treat this as a feature-absence signal.
	ErrUnsupported = errors.New("interface not supported by node")
)

// Decode errors. A decode failure is a defect in the remote response and
// is surfaced to the caller rather than retried.
var (
	// ErrMalformed is returned when a response violates the structural
	// expectations of its record type.
	ErrMalformed = errors.New("malformed response")

	// ErrInconsistent is returned when a response is well-formed but
	// contradicts caller-supplied parameters.
	ErrInconsistent = errors.New("inconsistent response")
)

// Query errors.
var (
	// ErrNotFound is returned when the node cannot locate the requested
	// entity. This is an expected outcome for queries against unknown
	// identifiers, not a fault.
	ErrNotFound = errors.New("not found")
)

// Subscription errors.
var (
	// ErrSubscriptionRejected is returned when the node refuses a callback
	// registration, or registration fails in flight.
	ErrSubscriptionRejected = errors.New("subscription rejected")

	// ErrSubscriptionActive is returned when Subscribe is called while a
	// subscription is already active or in progress.
	ErrSubscriptionActive = errors.New("subscription already active")

	// ErrSubscriptionNotActive is returned when Unsubscribe is called
	// without an active subscription.
	ErrSubscriptionNotActive = errors.New("subscription not active")
)

// Remote errors.
var (
	// ErrRejected is returned when the node refuses a request.
	ErrRejected = errors.New("rejected by node")

	// ErrNode is returned for remote failures that do not map to a more
	// specific error.
	ErrNode = errors.New("node error")
)

// WrapDecodeError wraps a decode error with record type context.
func WrapDecodeError(err error, record string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("decoding %s: %w", record, err)
}

// WrapCallError wraps a call error with interface and method context.
func WrapCallError(err error, iface, method string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %w", iface, method, err)
}
