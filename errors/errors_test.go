package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, CategoryTransient},
		{"unknown_agent", ErrCodeUnknownAgent, CategoryPermanent},
		{"denied", ErrCodeDenied, CategoryPermanent},
		{"spawn", ErrCodeSpawn, CategoryResource},
		{"panic", ErrCodePanic, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
		})
	}
}

func TestUnknownAgentMessage(t *testing.T) {
	err := UnknownAgent("ghost")
	if err.Error() != "unknown agent: ghost" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Metadata()["agent"] != "ghost" {
		t.Error("expected agent metadata")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	wrapped := Wrap(context.DeadlineExceeded, "waiting for store")
	if wrapped.Code() != ErrCodeTimeout {
		t.Errorf("Code() = %v, want TIMEOUT", wrapped.Code())
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("cause should be preserved")
	}

	inner := UnknownSkill("nope")
	outer := Wrap(fmt.Errorf("dispatch: %w", inner), "tool stage")
	if outer.Code() != ErrCodeUnknownSkill {
		t.Errorf("Code() = %v, want UNKNOWN_SKILL", outer.Code())
	}
	if !Is(outer, ErrCodeUnknownSkill) {
		t.Error("Is should find the code")
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(New(ErrCodeUnavailable, "bus down")) {
		t.Error("UNAVAILABLE should be retryable")
	}
	if IsRetryable(Denied("no")) {
		t.Error("DENIED should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil recover should give nil")
	}
	err := RecoverPanic("boom")
	if err.Code() != ErrCodePanic {
		t.Errorf("Code() = %v", err.Code())
	}
	if err.Error() != "panic: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapWithCodeKeepsTaskAndCause(t *testing.T) {
	cause := errors.New("kv down")
	err := WrapWithCode(cause, ErrCodeUnavailable, "update task t1", WithTaskID("t1"))
	if err.TaskID() != "t1" || !errors.Is(err, cause) {
		t.Fatalf("got %+v", err)
	}
	if !IsRetryable(fmt.Errorf("outer: %w", err)) {
		t.Error("UNAVAILABLE should stay retryable through wrapping")
	}
	if err.Error() != "update task t1: kv down" {
		t.Errorf("Error() = %q", err.Error())
	}
}
