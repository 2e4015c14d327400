package graph

import (
	"errors"
	"fmt"

	"graphload/internal/schema"
)

// ErrTxDone is returned by Tx methods after Commit or Rollback.
var ErrTxDone = errors.New("graph: transaction already finished")

// TransientError marks a failure that may succeed when the whole transaction
// is retried: write conflicts, serialization failures, deadlocks, lock
// timeouts, and unique-key races.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err wraps a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConnectionError marks a lost or unreachable store. It is fatal for a job.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection wraps err as a *ConnectionError. A nil err stays nil.
func Connection(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionError{Op: op, Err: err}
}

// IsConnection reports whether err wraps a *ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// NotFoundError reports a vertex that could not be resolved by key.
type NotFoundError struct {
	KeyProp string
	Key     schema.Value
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vertex %s=%s not found", e.KeyProp, e.Key.Text())
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrDuplicateKey is the cause wrapped in a TransientError when a key is
// already taken.
var ErrDuplicateKey = errors.New("duplicate vertex key")

// DuplicateKey returns the transient error stores raise for a taken key.
func DuplicateKey(keyProp string, key schema.Value) error {
	return &TransientError{Op: "create vertex", Err: fmt.Errorf("%w %s=%s", ErrDuplicateKey, keyProp, key.Text())}
}
