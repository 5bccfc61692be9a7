package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorCreation(t *testing.T) {
	err := E(Op("test.operation"), KindValidation, "something failed")

	if err.Op != "test.operation" {
		t.Errorf("expected Op 'test.operation', got %q", err.Op)
	}
	if err.Kind != KindValidation {
		t.Errorf("expected Kind KindValidation, got %v", err.Kind)
	}
	if err.Msg != "something failed" {
		t.Errorf("expected Msg 'something failed', got %q", err.Msg)
	}
}

func TestErrorWithWrappedError(t *testing.T) {
	underlying := fmt.Errorf("database is locked")
	err := E(Op("db.execute"), ExecLocked, underlying, "statement failed")

	if err.Err != underlying {
		t.Error("expected underlying error to be set")
	}
	if err.Kind != KindExecution {
		t.Errorf("ExecKind argument should imply KindExecution, got %v", err.Kind)
	}

	errStr := err.Error()
	for _, want := range []string{"db.execute", "statement failed", "database is locked"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string should contain %q, got %q", want, errStr)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	underlying := fmt.Errorf("root cause")
	err := E(Op("test"), underlying)

	if err.Unwrap() != underlying {
		t.Error("Unwrap should return the underlying error")
	}
}

func TestErrorStringFormats(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"op only", &Error{Op: "test"}, "test: "},
		{"msg only", &Error{Msg: "failed"}, "failed"},
		{"err only", &Error{Err: fmt.Errorf("root")}, "root"},
		{"op and msg", &Error{Op: "test", Msg: "failed"}, "test: failed"},
		{"all fields", &Error{Op: "test", Msg: "failed", Err: fmt.Errorf("root")}, "test: failed: root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown"},
		{KindInvalidIdentifier, "invalid_identifier"},
		{KindRejectedStatement, "rejected_statement"},
		{KindExecution, "execution"},
		{KindValidation, "validation"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindConfig, "config"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWrapPreservesKind(t *testing.T) {
	inner := InvalidIdentifier("database.ValidateIdentifier", "users;", "pattern")
	outer := Wrap("ingest.Load", WrapMsg("ingest.table", "bad table name", inner))

	if !IsKind(outer, KindInvalidIdentifier) {
		t.Errorf("expected wrapped error to keep KindInvalidIdentifier, got %v", GetKind(outer))
	}
	id, rule := Details(outer)
	if id != "users;" || rule != "pattern" {
		t.Errorf("Details() = (%q, %q), want (users;, pattern)", id, rule)
	}

	locked := Wrap("service.Ask", E(Op("db.exec"), ExecLocked, "busy"))
	if GetExecKind(locked) != ExecLocked {
		t.Errorf("expected ExecLocked through Wrap, got %v", GetExecKind(locked))
	}
	if !IsRetryable(locked) {
		t.Error("locked errors should be retryable")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapMsg("op", "msg", nil) != nil {
		t.Error("WrapMsg(nil) should return nil")
	}
}

func TestGetKindForeignError(t *testing.T) {
	if GetKind(fmt.Errorf("plain")) != KindUnknown {
		t.Error("plain errors should report KindUnknown")
	}
	if GetKind(nil) != KindUnknown {
		t.Error("nil should report KindUnknown")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid identifier", InvalidIdentifier("op", "x;", "pattern"), http.StatusBadRequest},
		{"rejected", Rejected("op", "comments not allowed"), http.StatusBadRequest},
		{"not found", E(KindNotFound, "missing"), http.StatusNotFound},
		{"conflict", E(KindConflict, "exists"), http.StatusConflict},
		{"locked", E(ExecLocked, "busy"), http.StatusServiceUnavailable},
		{"syntax", E(ExecSyntax, "near x"), http.StatusInternalServerError},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExecKindString(t *testing.T) {
	want := map[ExecKind]string{
		ExecUnknown:    "UNKNOWN",
		ExecSyntax:     "SYNTAX",
		ExecConstraint: "CONSTRAINT",
		ExecLocked:     "LOCKED",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), s)
		}
	}
}
