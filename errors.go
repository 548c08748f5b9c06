package vmstore

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrency is returned by Commit when an optimistic-lock race was
	// lost: the id already exists on create, or the stored document no longer
	// carries the version the view model was loaded with on update / delete.
	// Reload the view model and retry.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrConfiguration is the base of every commit precondition error.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoAction is returned when committing a view model without a pending action.
	ErrNoAction = fmt.Errorf("%w: no action on commit", ErrConfiguration)

	// ErrNotConnected is returned when a store is used before Connect succeeded.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrLinkFailure marks a link closed by the heartbeat watchdog. It is
	// only observable through the StateDisconnected event.
	ErrLinkFailure = errors.New("transient link failure")

	// ErrHeartbeatTimeout is the cause of a link failure when a probe did not
	// answer within the grace period.
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
)

// UnknownActionError is returned when committing a view model whose pending
// action is not one of create, update or delete.
type UnknownActionError struct {
	Action Action
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("%v: unknown action %q", ErrConfiguration, string(e.Action))
}

// Unwrap returns ErrConfiguration.
func (e *UnknownActionError) Unwrap() error { return ErrConfiguration }

// ConnectionError is returned by Connect when opening or authenticating the
// link fails.
//
// The original underlying error can be accessed via errors.Unwrap.
type ConnectionError struct {
	// Op is "open" or "authenticate".
	Op    string
	cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.cause)
}

func (e *ConnectionError) Unwrap() error { return e.cause }

func isConcurrency(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
