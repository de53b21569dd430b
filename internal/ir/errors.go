package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the typed failure shared by every runtime layer.
//
// Errors fall into four categories:
//   - Decode: malformed grammar text or binary task/table encoding
//   - Incompatible: an operation between value variants that cannot combine
//   - NotFound: a task or query that is no longer known (moot work)
//   - Transport: a collaborator failed to move bytes or persist state
//
// Only Incompatible failures are propagated to the root; the others are
// logged and dropped where they occur.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed, e.g. "add" or "decode table".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes runtime errors.
type ErrorCode string

const (
	// ErrCodeDecode indicates malformed grammar or binary input.
	ErrCodeDecode ErrorCode = "DECODE_FAILED"

	// ErrCodeIncompatible indicates an operand pairing the value system rejects.
	ErrCodeIncompatible ErrorCode = "INCOMPATIBLE_OPERAND"

	// ErrCodeNotFound indicates a reference to a task that no longer exists.
	ErrCodeNotFound ErrorCode = "TASK_NOT_FOUND"

	// ErrCodeTransport indicates a network or persistence collaborator failure.
	ErrCodeTransport ErrorCode = "TRANSPORT_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Incompatible creates an error for an operation that cannot combine a and b.
// Either operand may be nil (missing); b is nil for unary operations.
func Incompatible(op string, a, b Value) *Error {
	var msg string
	if b == nil && isUnary(op) {
		msg = fmt.Sprintf("operand %s not supported", describe(a))
	} else {
		msg = fmt.Sprintf("operands %s and %s not compatible", describe(a), describe(b))
	}
	return &Error{Code: ErrCodeIncompatible, Op: op, Message: msg}
}

// DecodeError creates an error for malformed input.
func DecodeError(op string, format string, args ...any) *Error {
	return &Error{Code: ErrCodeDecode, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates an error for a task that is no longer present.
func NotFound(id TaskID) *Error {
	return &Error{Code: ErrCodeNotFound, Op: "lookup", Message: "task " + id.String() + " not found"}
}

// TransportError wraps a collaborator failure.
func TransportError(op string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Op: op, Message: "collaborator failed", Err: err}
}

// IsDecode returns true if the error is a decode failure.
// Uses errors.As to handle wrapped errors.
func IsDecode(err error) bool {
	return hasCode(err, ErrCodeDecode)
}

// IsIncompatible returns true if the error is an incompatible-operand failure.
func IsIncompatible(err error) bool {
	return hasCode(err, ErrCodeIncompatible)
}

// IsNotFound returns true if the error references a vanished task.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTransport returns true if the error is a collaborator failure.
func IsTransport(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func isUnary(op string) bool {
	return op == "negate" || strings.HasPrefix(op, "cast to ")
}

func describe(v Value) string {
	if v == nil {
		return "Missing"
	}
	return v.Kind().String()
}
