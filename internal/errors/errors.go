// Package errors provides the error taxonomy for nlsql.
// Every failure that leaves a package is an *Error carrying the operation
// that failed and a Kind that callers (the HTTP layer in particular) use to
// decide how to report it.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Op represents an operation name for error context.
type Op string

// Error represents an application error with context.
type Error struct {
	Op         Op       // Operation that failed
	Kind       Kind     // Category of error
	Exec       ExecKind // Database failure class, only for KindExecution
	Identifier string   // Offending identifier, if any
	Rule       string   // Violated validation rule, if any
	Err        error    // Underlying error
	Msg        string   // Additional context message
}

// Kind represents the category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidIdentifier
	KindRejectedStatement
	KindExecution
	KindValidation
	KindNotFound
	KindConflict
	KindIO
	KindConfig
	KindNetwork
	KindParse
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidIdentifier:
		return "invalid_identifier"
	case KindRejectedStatement:
		return "rejected_statement"
	case KindExecution:
		return "execution"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIO:
		return "io"
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// ExecKind classifies a database-level failure.
type ExecKind uint8

const (
	ExecUnknown ExecKind = iota
	ExecSyntax
	ExecConstraint
	ExecLocked
)

func (k ExecKind) String() string {
	switch k {
	case ExecSyntax:
		return "SYNTAX"
	case ExecConstraint:
		return "CONSTRAINT"
	case ExecLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error with the given arguments.
// Arguments can be: Op, Kind, ExecKind, error, string (message).
func E(args ...interface{}) *Error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case ExecKind:
			e.Exec = a
			if e.Kind == KindUnknown {
				e.Kind = KindExecution
			}
		case error:
			e.Err = a
		case string:
			e.Msg = a
		}
	}
	return e
}

// InvalidIdentifier builds the error returned when an identifier candidate
// fails validation.
func InvalidIdentifier(op Op, candidate, rule string) *Error {
	return &Error{
		Op:         op,
		Kind:       KindInvalidIdentifier,
		Identifier: candidate,
		Rule:       rule,
		Msg:        fmt.Sprintf("invalid identifier %q (%s)", candidate, rule),
	}
}

// Rejected builds the error returned for a statement that failed classification.
func Rejected(op Op, reason string) *Error {
	return &Error{Op: op, Kind: KindRejectedStatement, Rule: reason, Msg: "statement rejected: " + reason}
}

// Wrap wraps an error with an operation name for context.
// The kind of a wrapped *Error is preserved.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: GetKind(err), Exec: GetExecKind(err), Err: err}
}

// WrapMsg wraps an error with an operation name and message.
func WrapMsg(op Op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: GetKind(err), Exec: GetExecKind(err), Msg: msg, Err: err}
}

// as finds the innermost *Error carrying a kind.
func as(err error) (*Error, bool) {
	var e *Error
	if !stderrors.As(err, &e) {
		return nil, false
	}
	for e.Kind == KindUnknown {
		var inner *Error
		if e.Err == nil || !stderrors.As(e.Err, &inner) {
			break
		}
		e = inner
	}
	return e, true
}

// IsKind checks if an error is of the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetKind returns the kind of an error, or KindUnknown.
func GetKind(err error) Kind {
	e, ok := as(err)
	if !ok {
		return KindUnknown
	}
	return e.Kind
}

// GetExecKind returns the execution failure class of an error.
func GetExecKind(err error) ExecKind {
	e, ok := as(err)
	if !ok {
		return ExecUnknown
	}
	return e.Exec
}

// Details returns the offending identifier and violated rule, if recorded.
func Details(err error) (identifier, rule string) {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return "", ""
		}
		if e.Identifier != "" || e.Rule != "" {
			return e.Identifier, e.Rule
		}
		err = e.Err
	}
	return "", ""
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return GetKind(err) == KindExecution && GetExecKind(err) == ExecLocked
}

// StatusCode maps an error to the HTTP status the API answers with.
func StatusCode(err error) int {
	switch GetKind(err) {
	case KindInvalidIdentifier, KindRejectedStatement, KindValidation, KindParse:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExecution:
		if GetExecKind(err) == ExecLocked {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// LogAndContinue logs an error at warn level (for use in continue patterns).
// This replaces silent continue statements with visible logging.
//
// Example:
//
//	if err != nil {
//	    errors.LogAndContinue(log, "scanning row", err)
//	    continue
//	}
func LogAndContinue(log zerolog.Logger, operation string, err error) {
	log.Warn().Err(err).Str("operation", operation).Msg("operation failed, continuing")
}

// IgnoreError explicitly ignores an error with a reason.
//
//	errors.IgnoreError(log, file.Close(), "cleanup during error recovery")
func IgnoreError(log zerolog.Logger, err error, reason string) {
	if err != nil {
		log.Debug().Err(err).Str("reason", reason).Msg("ignoring error")
	}
}

// Is and As re-export the standard library helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// New returns a plain error; used for sentinel values.
func New(text string) error { return stderrors.New(text) }
