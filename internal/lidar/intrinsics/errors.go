package intrinsics

import (
	"errors"
	"fmt"
)

// ErrorCode classifies structural failures of the estimator and codec.
type ErrorCode int

const (
	None ErrorCode = iota
	InvalidInput
	InsufficientPoints
	SerializationError
	Unknown
)

func (c ErrorCode) String() string {
	switch c {
	case None:
		return "NONE"
	case InvalidInput:
		return "INVALID_INPUT"
	case InsufficientPoints:
		return "INSUFFICIENT_POINTS"
	case SerializationError:
		return "SERIALIZATION_ERROR"
	case Unknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ErrorMessage returns a human readable description of code.
func ErrorMessage(code ErrorCode) string {
	switch code {
	case None:
		return "no error"
	case InvalidInput:
		return "point cloud is empty or contains no valid points"
	case InsufficientPoints:
		return "point cloud has too few valid points to fit a scanline"
	case SerializationError:
		return "intrinsics data is malformed or incomplete"
	case Unknown:
		return "unexpected internal error"
	}
	return "unrecognised error code"
}

// Error is a classified failure. Err, when set, is the underlying cause.
type Error struct {
	Code ErrorCode
	Err  error
}

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidInput       = &Error{Code: InvalidInput}
	ErrInsufficientPoints = &Error{Code: InsufficientPoints}
	ErrSerialization      = &Error{Code: SerializationError}
	ErrUnknown            = &Error{Code: Unknown}
)

// Errorf builds an *Error whose cause is formatted like fmt.Errorf, so %w
// is honoured.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return ErrorMessage(e.Code)
	}
	return fmt.Sprintf("%s: %v", ErrorMessage(e.Code), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf extracts the ErrorCode from err. A nil error maps to None and an
// unclassified error maps to Unknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
