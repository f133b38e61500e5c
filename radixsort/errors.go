package radixsort

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors.
type Kind int

const (
	// KindConfiguration: unsupported scan length, bounds or batch size.
	KindConfiguration Kind = iota + 1
	// KindPrecondition: a call argument violates the engine's granularity
	// or capacity, or the engine was released.
	KindPrecondition
	// KindResource: the backend failed to allocate, launch or transfer.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPrecondition:
		return "precondition"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrConfiguration = errors.New("radixsort: configuration error")
	ErrPrecondition  = errors.New("radixsort: precondition violation")
	ErrResource      = errors.New("radixsort: resource error")
	ErrReleased      = errors.New("radixsort: engine released")
)

// Error is the typed error returned by the scan and sort engines.
type Error struct {
	Kind Kind
	Op   string // engine operation, e.g. "Scan.ExclusiveScan"
	Msg  string
	Err  error // backend cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("radixsort %s error in %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("radixsort %s error in %s: %s", e.Kind, e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrPrecondition:
		return e.Kind == KindPrecondition
	case ErrResource:
		return e.Kind == KindResource
	}
	return false
}

func configError(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func preconditionError(op, format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func resourceError(op, msg string, err error) error {
	return &Error{Kind: KindResource, Op: op, Msg: msg, Err: err}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsPrecondition reports whether err is a precondition violation.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }

// IsResource reports whether err is a backend resource error.
func IsResource(err error) bool { return errors.Is(err, ErrResource) }
