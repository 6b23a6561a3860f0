// Package errs defines the typed error kinds surfaced by the federated
// normalization core (spec section 7).
package errs

import "errors"

// Kind classifies a failure for exit-code mapping and ResultSink reporting.
type Kind string

const (
	KindConfig   Kind = "config_error"
	KindInput    Kind = "input_error"
	KindShape    Kind = "shape_error"
	KindDomain   Kind = "domain_error"
	KindProtocol Kind = "protocol_error"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// failure class without string matching.
type Error struct {
	Kind  Kind
	State string // protocol state the error surfaced in, if any
	Err   error
}

func (e *Error) Error() string {
	if e.State != "" {
		return string(e.Kind) + " in " + e.State + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ConfigError — missing or unrecognized normalization mode, unreadable YAML.
func ConfigError(err error) *Error { return newf(KindConfig, err) }

// InputError — file missing, unparsable, NaN in UQ input, empty UQ input
// matrix. Too few rows after zero removal is a warning, not an error.
func InputError(err error) *Error { return newf(KindInput, err) }

// ShapeError — participants report matrices with different row counts.
func ShapeError(err error) *Error { return newf(KindShape, err) }

// DomainError — non-positive value passed to the geometric mean.
func DomainError(err error) *Error { return newf(KindDomain, err) }

// ProtocolError — unexpected payload count/type during an aggregation
// barrier.
func ProtocolError(err error) *Error { return newf(KindProtocol, err) }

// WithState returns a copy of e annotated with the driver state it
// surfaced in.
func WithState(err error, state string) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.State = state
		return &cp
	}
	return err
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExitCode maps a Kind to a process exit code for the CLI.
func ExitCode(err error) int {
	switch KindOf(err) {
	case KindConfig:
		return 2
	case KindInput:
		return 3
	case KindShape:
		return 4
	case KindDomain:
		return 5
	case KindProtocol:
		return 6
	default:
		if err != nil {
			return 1
		}
		return 0
	}
}
