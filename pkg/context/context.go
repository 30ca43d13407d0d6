// Package context carries run tracing values through context.Context.
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys for run tracing.
// Using unexported struct pointers prevents key collisions.
var (
	runIDKey     = &struct{}{}
	operationKey = &struct{}{}
	startTimeKey = &struct{}{}
)

const (
	unknownRun       = "unknown-run"
	unknownOperation = "unknown-operation"
)

// WithRunID adds a run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return unknownRun
}

// HasRunID reports whether a run ID was attached
func HasRunID(ctx context.Context) bool {
	return GetRunID(ctx) != unknownRun
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return unknownOperation
}

// HasOperation reports whether an operation name was attached
func HasOperation(ctx context.Context) bool {
	return GetOperation(ctx) != unknownOperation
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration returns the time elapsed since the start time in context, or
// zero when no start time is present.
func GetDuration(ctx context.Context) time.Duration {
	start, ok := GetStartTime(ctx)
	if !ok {
		return 0
	}
	return time.Since(start)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// NewRun returns a context prepared for one map/convert/build run: a fresh
// run ID unless one is already set, and the current time as start time.
func NewRun(parent context.Context) context.Context {
	ctx := parent
	if !HasRunID(ctx) {
		ctx = WithRunID(ctx, GenerateRunID())
	}
	return WithStartTime(ctx, time.Now())
}
