package pos

import (
	"errors"
	"fmt"
)

// Kind categorizes failures.
type Kind string

const (
	KindConnectivity Kind = "CONNECTIVITY_FAILURE"
	KindTransaction  Kind = "TRANSACTION_FAILURE"
	KindValidation   Kind = "VALIDATION_FAILURE"
	KindSyncConflict Kind = "SYNC_CONFLICT"
	KindFatalStorage Kind = "FATAL_STORAGE_FAILURE"
)

var (
	// ErrNotFound is returned when a product or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a sale asks for more units
	// than the cache holds.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicate is returned by an authority that already applied an
	// idempotency key.
	ErrDuplicate = errors.New("duplicate submission")
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a ValidationFailure from a format string.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsValidation reports whether err is a ValidationFailure.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsConnectivity reports whether err is a ConnectivityFailure.
func IsConnectivity(err error) bool { return IsKind(err, KindConnectivity) }

// IsConflict reports whether err is a SyncConflict.
func IsConflict(err error) bool { return IsKind(err, KindSyncConflict) }
