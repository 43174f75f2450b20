package orders

import "errors"

var (
	// ErrNotFound is returned by every order-keyed operation when the order does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks storage failures that rolled the transaction back and are safe to retry.
	ErrTransient = errors.New("transient storage failure")
	// ErrConflict is an optimistic version mismatch. It is always wrapped as transient.
	ErrConflict = errors.New("concurrent modification")
)

type transientError struct{ err error }

func (e *transientError) Error() string   { return "transient storage failure: " + e.err.Error() }
func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
