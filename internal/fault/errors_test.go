package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormattingAndUnwrap(t *testing.T) {
	err := Wrap(KindBackendTimeout, "call exceeded deadline", context.DeadlineExceeded)
	if got := err.Error(); got != "BACKEND_TIMEOUT: call exceeded deadline" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected wrapped deadline error")
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := UndeclaredVariable("block_mass")
	wrapped := fmt.Errorf("task reach: %w", base)
	if KindOf(wrapped) != KindUndeclaredVariable {
		t.Fatalf("expected undeclared kind, got %q", KindOf(wrapped))
	}
	fe, ok := As(wrapped)
	if !ok || fe.Subject != "block_mass" {
		t.Fatalf("expected subject block_mass, got %+v", fe)
	}
	if !IsValidation(wrapped) {
		t.Fatal("expected validation classification")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("expected empty kind for plain error")
	}
}

func TestExhaustedKeepsLastViolation(t *testing.T) {
	last := MissingWeight("w", "weight %q reused", "w")
	err := Exhausted("per_task_reward", 4, last)
	if !Is(err, KindSynthesisExhausted) {
		t.Fatalf("expected exhausted kind, got %v", err)
	}
	var inner *Error
	if !errors.As(errors.Unwrap(err), &inner) || inner.Kind != KindMissingWeightParameter {
		t.Fatalf("expected wrapped weight violation, got %v", errors.Unwrap(err))
	}
}

func TestRetryableOnlyWhenMarked(t *testing.T) {
	if IsRetryable(New(KindBackendUnavailable, "down")) {
		t.Fatal("unmarked fault must not be retryable")
	}
	if !IsRetryable(New(KindBackendUnavailable, "down").WithRetryable(true)) {
		t.Fatal("marked fault must be retryable")
	}
}
