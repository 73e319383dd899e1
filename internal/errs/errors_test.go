package errs

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"route", NewRouteError("a", "b"), ErrNoRoute},
		{"mail", NewMailError("/p", fmt.Errorf("bad json")), ErrMailCorrupt},
		{"container", NewContainerError("bee-a", fmt.Errorf("daemon down")), ErrContainerRuntime},
		{"validation", NewValidationError("bad"), ErrValidation},
		{"not found", NewNotFoundError("bee", "x"), ErrNotFound},
		{"already exists", NewAlreadyExistsError("bee", "x"), ErrAlreadyExists},
		{"busy", NewBusyError("registry"), ErrBusy},
		{"io", NewIOError("/p", fmt.Errorf("disk full")), ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.sentinel) {
				t.Errorf("Is(%v, sentinel) = false", tt.err)
			}
		})
	}
}

func TestCausePreserved(t *testing.T) {
	cause := fs.ErrNotExist
	err := NewIOError("/p", cause)
	if !Is(err, fs.ErrNotExist) {
		t.Error("Underlying cause lost from the error chain")
	}
	if !Is(err, ErrIO) {
		t.Error("Sentinel lost from the error chain")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrap(NewRouteError("a", "b"), "routing mail")
	if !Is(err, ErrNoRoute) {
		t.Error("Wrap broke the errors.Is chain")
	}

	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(NewRouteError("a", "b")) {
		t.Error("A topology rejection is not retryable")
	}
	if !IsRetryable(NewIOError("/p", fmt.Errorf("transient"))) {
		t.Error("An i/o failure should be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(NewValidationError("bad field")) {
		t.Error("Validation errors are user-facing")
	}
	if IsUserFacing(NewIOError("/p", fmt.Errorf("x"))) {
		t.Error("Raw i/o errors are not user-facing")
	}
}

func TestValidationErrors_Aggregate(t *testing.T) {
	verrs := ValidationErrors{
		*NewValidationError("first"),
		*NewValidationError("second"),
	}
	if !Is(verrs, ErrValidation) {
		t.Error("Aggregate should match ErrValidation")
	}
	msg := verrs.Error()
	if msg == "" {
		t.Error("Aggregate message empty")
	}

	single := ValidationErrors{*NewValidationError("only")}
	if single.Error() == "" {
		t.Error("Single-entry aggregate message empty")
	}
}

func TestValidationError_FieldAndValue(t *testing.T) {
	err := NewValidationError("must be unique").WithField("bees").WithValue("bee-a")
	msg := err.Error()
	if msg == "" {
		t.Fatal("Empty message")
	}
	for _, want := range []string{"bees", "bee-a", "must be unique"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message %q missing %q", msg, want)
		}
	}
}
