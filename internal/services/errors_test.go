package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"reelchain/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrAssembly, "assembler", "concat", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrAssembly) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"assembler", "concat", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want services.Kind
	}{
		{nil, ""},
		{services.Wrap(services.ErrTimeout, "poll", "", "", nil), services.KindTimeout},
		{services.Wrap(services.ErrServiceRejected, "submit", "", "", nil), services.KindServiceRejected},
		{fmt.Errorf("outer: %w", services.ErrDecode), services.KindDecode},
		{context.DeadlineExceeded, services.KindTimeout},
		{context.Canceled, services.KindCancelled},
		{errors.New("plain"), services.KindInternal},
	}
	for _, tc := range cases {
		if got := services.KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.ErrServiceUnreachable) {
		t.Fatal("expected unreachable to be retryable")
	}
	if services.Retryable(services.ErrArtifactMissing) {
		t.Fatal("expected artifact missing to be terminal")
	}
}
