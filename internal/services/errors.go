package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrServiceUnreachable = errors.New("render service unreachable")
	ErrTimeout            = errors.New("timeout")
	ErrServiceRejected    = errors.New("render service rejected request")
	ErrArtifactMissing    = errors.New("artifact missing")
	ErrDecode             = errors.New("decode error")
	ErrAssembly           = errors.New("assembly error")
	ErrCancelled          = errors.New("cancelled")
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrTransient          = errors.New("transient failure")
)

// Kind is the stable identifier persisted alongside failed attempts.
type Kind string

const (
	KindServiceUnreachable Kind = "service_unreachable"
	KindTimeout            Kind = "timeout"
	KindServiceRejected    Kind = "service_rejected"
	KindArtifactMissing    Kind = "artifact_missing"
	KindDecode             Kind = "decode_error"
	KindAssembly           Kind = "assembly_error"
	KindCancelled          Kind = "cancelled"
	KindValidation         Kind = "validation"
	KindConfiguration      Kind = "configuration"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

var kindMarkers = []struct {
	marker error
	kind   Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrTimeout, KindTimeout},
	{ErrServiceUnreachable, KindServiceUnreachable},
	{ErrServiceRejected, KindServiceRejected},
	{ErrArtifactMissing, KindArtifactMissing},
	{ErrDecode, KindDecode},
	{ErrAssembly, KindAssembly},
	{ErrValidation, KindValidation},
	{ErrConfiguration, KindConfiguration},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error onto its taxonomy kind. Context cancellation and
// deadline errors are folded into cancelled and timeout respectively.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, km := range kindMarkers {
		if errors.Is(err, km.marker) {
			return km.kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// Retryable reports whether a failure is worth regenerating without changing
// inputs.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindServiceUnreachable, KindTimeout:
		return true
	default:
		return false
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
