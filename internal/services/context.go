package services

import "context"

type contextKey string

const (
	jobIDKey      contextKey = "job_id"
	stageIndexKey contextKey = "stage_index"
	attemptKey    contextKey = "attempt"
	requestIDKey  contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStageIndex annotates context with the stage index and attempt number.
func WithStageIndex(ctx context.Context, index, attempt int) context.Context {
	if index < 0 {
		return ctx
	}
	ctx = context.WithValue(ctx, stageIndexKey, index)
	return context.WithValue(ctx, attemptKey, attempt)
}

// StageIndexFromContext returns the stage index and attempt number if present.
func StageIndexFromContext(ctx context.Context) (int, int, bool) {
	index, ok := ctx.Value(stageIndexKey).(int)
	if !ok {
		return 0, 0, false
	}
	attempt, _ := ctx.Value(attemptKey).(int)
	return index, attempt, true
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
