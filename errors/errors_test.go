package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"no connection", ErrNoConnection, true},
		{"connection lost", ErrConnectionLost, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid envelope", ErrInvalidEnvelope, false},
		{"max retries exceeded", ErrMaxRetriesExceeded, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network unreachable"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"max retries exceeded", ErrMaxRetriesExceeded, true},
		{"no connection", ErrNoConnection, false},
		{"invalid envelope", ErrInvalidEnvelope, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid envelope", ErrInvalidEnvelope, true},
		{"empty payload", ErrEmptyPayload, true},
		{"no connection", ErrNoConnection, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"fatal wins over patterns", ErrMaxRetriesExceeded, ErrorFatal},
		{"invalid sentinel", ErrEmptyPayload, ErrorInvalid},
		{"unknown defaults transient", fmt.Errorf("something odd"), ErrorTransient},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	err := Wrap(base, "Worker", "Process", "store object")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should match base with errors.Is")
	}
	expected := "Worker.Process: store object failed: boom"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}

	if Wrap(nil, "Worker", "Process", "store object") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		check func(error) bool
	}{
		{"transient", WrapTransient, IsTransient},
		{"invalid", WrapInvalid, IsInvalid},
		{"fatal", WrapFatal, IsFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Broker", "Publish", "send envelope")
			if err == nil {
				t.Fatal("expected error")
			}
			if !test.check(err) {
				t.Errorf("expected %s classification", test.name)
			}
			if !errors.Is(err, base) {
				t.Error("classification should preserve the error chain")
			}
			if !strings.Contains(err.Error(), "Broker.Publish") {
				t.Errorf("expected component context in %q", err.Error())
			}
			if test.wrap(nil, "Broker", "Publish", "send envelope") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := ErrStorageUnavailable
	ce := &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("wrapped: %w", base)}

	if !errors.Is(ce, base) {
		t.Error("errors.Is should reach the sentinel through ClassifiedError")
	}

	var target *ClassifiedError
	if !errors.As(fmt.Errorf("outer: %w", ce), &target) {
		t.Error("errors.As should find ClassifiedError through wrapping")
	}
}
