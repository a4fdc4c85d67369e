package trace

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{InvalidArgumentf("type is required"), KindInvalidArgument},
		{NotFoundf("node %s not found", "x"), KindNotFound},
		{PermissionDeniedf("no"), KindPermissionDenied},
		{Internal(errors.New("db down")), KindInternal},
		{errors.New("plain"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestWrapInternalPassesStructuredThrough(t *testing.T) {
	orig := NotFoundf("node missing")
	wrapped := WrapInternal(orig)
	if wrapped != orig {
		t.Fatalf("structured error was re-wrapped: %v", wrapped)
	}

	// Structured errors survive %w chains too.
	chained := WrapInternal(fmt.Errorf("step 3: %w", orig))
	if KindOf(chained) != KindNotFound {
		t.Fatalf("expected not_found through chain, got %s", KindOf(chained))
	}
}

func TestWrapInternalWrapsPlainErrors(t *testing.T) {
	err := WrapInternal(errors.New("connection reset"))
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal, got %s", KindOf(err))
	}
	var te *Error
	if !errors.As(err, &te) {
		t.Fatal("expected *Error")
	}
	if te.Message != "an unexpected error occurred" {
		t.Fatalf("internal message leaked detail: %q", te.Message)
	}
}

func TestWrapInternalNil(t *testing.T) {
	if WrapInternal(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}
