// Package shared carries per-request identity through context.Context.
package shared

import (
	"context"

	"github.com/loomhq/loom/internal/ids"
)

// Scope is the identity bundle the external request layer resolves before
// handing a message to the core: who is asking, on which session, under
// which trace, against which agent.
type Scope struct {
	UserID    ids.UserID
	SessionID ids.SessionID
	TraceID   ids.TraceID
	AgentName string
}

type scopeKey struct{}

// WithScope attaches a request scope to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom extracts the request scope. A zero Scope is returned when the
// context carries none; callers that require identity must check UserID.
func ScopeFrom(ctx context.Context) Scope {
	if s, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}

type taskKey struct{}

// WithTaskID attaches the task being executed to the context, for logging
// and telemetry inside provider and MCP calls.
func WithTaskID(ctx context.Context, id ids.TaskID) context.Context {
	return context.WithValue(ctx, taskKey{}, id)
}

// TaskIDFrom extracts the current task id, or "" if absent.
func TaskIDFrom(ctx context.Context) ids.TaskID {
	if v, ok := ctx.Value(taskKey{}).(ids.TaskID); ok {
		return v
	}
	return ""
}
