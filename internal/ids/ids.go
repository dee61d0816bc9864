// Package ids defines the typed identifiers used across the execution core.
// Every domain identifier is a distinct string type so that a TaskID cannot
// be passed where a ContextID is expected. All ids serialize as plain JSON
// strings.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskID identifies one agent turn within a context.
type TaskID string

// ContextID identifies a long-lived conversation container.
type ContextID string

// MessageID identifies a user or agent utterance.
type MessageID string

// ArtifactID identifies a typed tool output attached to a task.
type ArtifactID string

// AiRequestID identifies one LLM API call.
type AiRequestID string

// McpExecutionID identifies one call to an MCP tool server. Unlike the
// other ids it is minted by the remote server and arrives in
// CallToolResult._meta.
type McpExecutionID string

// StepID identifies one visible execution phase within a task.
type StepID string

// UserID identifies the owning user of a context.
type UserID string

// SessionID identifies the client session a request arrived on.
type SessionID string

// TraceID correlates everything produced while handling one request.
type TraceID string

// Sentinel ids. SystemContextID scopes work not tied to a user
// conversation (scheduled jobs); the user sentinels mark requests from
// unauthenticated callers and from the platform itself.
const (
	SystemContextID ContextID = "system"
	AnonymousUserID UserID    = "anonymous"
	SystemUserID    UserID    = "system"
)

func NewTaskID() TaskID               { return TaskID(uuid.NewString()) }
func NewContextID() ContextID         { return ContextID(uuid.NewString()) }
func NewMessageID() MessageID         { return MessageID(uuid.NewString()) }
func NewArtifactID() ArtifactID       { return ArtifactID(uuid.NewString()) }
func NewAiRequestID() AiRequestID     { return AiRequestID(uuid.NewString()) }
func NewStepID() StepID               { return StepID(uuid.NewString()) }
func NewSessionID() SessionID         { return SessionID(uuid.NewString()) }
func NewTraceID() TraceID             { return TraceID(uuid.NewString()) }

func (id TaskID) String() string         { return string(id) }
func (id ContextID) String() string      { return string(id) }
func (id MessageID) String() string      { return string(id) }
func (id ArtifactID) String() string     { return string(id) }
func (id AiRequestID) String() string    { return string(id) }
func (id McpExecutionID) String() string { return string(id) }
func (id StepID) String() string         { return string(id) }
func (id UserID) String() string         { return string(id) }
func (id SessionID) String() string      { return string(id) }
func (id TraceID) String() string        { return string(id) }

// ValidationError reports a rejected identifier or path.
type ValidationError struct {
	Kind   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}
