// Package core exposes the A2A JSON-RPC methods as plain Go methods.
// The outer HTTP layer owns transport, auth, and scope resolution; by
// the time a call lands here the context carries a shared.Scope.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/shared"
	"github.com/loomhq/loom/internal/stream"
)

// Executor runs a validated message to a terminal task.
type Executor interface {
	Execute(ctx context.Context, req a2a.ValidatedRequest) (a2a.Task, error)
}

// Handler serves message/send, message/stream, tasks/get, and
// tasks/cancel. Push-notification-config methods never reach here.
type Handler struct {
	store  *persistence.Store
	agents a2a.AgentLookup
	exec   Executor
	events *stream.Broadcaster
	logger *slog.Logger
}

func New(store *persistence.Store, agents a2a.AgentLookup, exec Executor, events *stream.Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  store,
		agents: agents,
		exec:   exec,
		events: events,
		logger: logger,
	}
}

// MessageSend admits the message and runs it to completion, returning
// the terminal task. Validation happens before any write: a rejected
// message leaves no context, task, or request rows behind.
func (h *Handler) MessageSend(ctx context.Context, params a2a.MessageSendParams) (a2a.Task, error) {
	scope := shared.ScopeFrom(ctx)
	req, err := a2a.ValidateMessageRequest(ctx, params.Message, scope, h.agents, h.store)
	if err != nil {
		return a2a.Task{}, fmt.Errorf("validate message: %w", err)
	}
	return h.exec.Execute(ctx, req)
}

// MessageStream admits the message, subscribes the caller to its event
// stream, and runs the strategy in a goroutine. The subscription is
// live before execution starts, so no event is missed. The caller must
// drain the channel until EventTaskCompleted or EventError and then
// Unsubscribe. A consumer that disconnects does not abort the task;
// the store keeps the authoritative state.
func (h *Handler) MessageStream(ctx context.Context, params a2a.MessageSendParams) (*stream.Subscription, error) {
	scope := shared.ScopeFrom(ctx)
	req, err := a2a.ValidateMessageRequest(ctx, params.Message, scope, h.agents, h.store)
	if err != nil {
		return nil, fmt.Errorf("validate message: %w", err)
	}

	sub := h.events.Subscribe(scope.UserID)

	execCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := h.exec.Execute(execCtx, req); err != nil {
			h.logger.Warn("streamed task failed",
				"task_id", req.TaskID,
				"error", err)
		}
	}()

	return sub, nil
}

// TaskGet returns the current persisted view of a task. Ownership is
// checked through the task's context; a foreign task reads as missing.
func (h *Handler) TaskGet(ctx context.Context, params a2a.TaskQueryParams) (a2a.Task, error) {
	scope := shared.ScopeFrom(ctx)
	rec, err := h.loadOwnedTask(ctx, params.ID, scope)
	if err != nil {
		return a2a.Task{}, err
	}

	artifacts, err := h.store.ListArtifactsByTask(ctx, rec.ID)
	if err != nil {
		return a2a.Task{}, fmt.Errorf("list artifacts: %w", err)
	}

	return taskFromRecord(rec, artifacts), nil
}

// TaskCancel returns the canceled view of a task. It deliberately does
// not write to the task row: an in-flight strategy keeps running and
// its terminal flush wins, so the row may still read Working afterwards.
func (h *Handler) TaskCancel(ctx context.Context, params a2a.TaskCancelParams) (a2a.Task, error) {
	scope := shared.ScopeFrom(ctx)
	rec, err := h.loadOwnedTask(ctx, params.ID, scope)
	if err != nil {
		return a2a.Task{}, err
	}
	return a2a.BuildCanceledTask(rec.ID, rec.ContextID), nil
}

// Handle dispatches a JSON-RPC request envelope for the unary methods.
// message/stream has its own entry point; routing it here is a caller
// bug and reported as invalid params.
func (h *Handler) Handle(ctx context.Context, req a2a.Request) a2a.Response {
	resp := a2a.Response{JSONRPC: "2.0", ID: req.ID}

	var (
		result any
		err    error
	)
	switch req.Method {
	case a2a.MethodMessageSend:
		var params a2a.MessageSendParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			err = &a2a.Error{Code: a2a.CodeInvalidParams, Message: "malformed params"}
			break
		}
		result, err = h.MessageSend(ctx, params)
	case a2a.MethodTasksGet:
		var params a2a.TaskQueryParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			err = &a2a.Error{Code: a2a.CodeInvalidParams, Message: "malformed params"}
			break
		}
		result, err = h.TaskGet(ctx, params)
	case a2a.MethodTasksCancel:
		var params a2a.TaskCancelParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			err = &a2a.Error{Code: a2a.CodeInvalidParams, Message: "malformed params"}
			break
		}
		result, err = h.TaskCancel(ctx, params)
	case a2a.MethodMessageStream:
		err = &a2a.Error{Code: a2a.CodeInvalidParams, Message: "message/stream requires a streaming transport"}
	default:
		err = &a2a.Error{Code: a2a.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	if err != nil {
		resp.Error = rpcError(err)
		return resp
	}
	resp.Result = result
	return resp
}

// loadOwnedTask fetches a task and verifies the requesting user owns its
// context. Both a missing task and a foreign one come back as not found,
// so callers cannot probe for other users' task ids.
func (h *Handler) loadOwnedTask(ctx context.Context, rawID string, scope shared.Scope) (persistence.TaskRecord, error) {
	if rawID == "" {
		return persistence.TaskRecord{}, &persistence.InvalidDataError{Field: "id", Reason: "empty"}
	}
	rec, err := h.store.GetTaskByID(ctx, ids.TaskID(rawID))
	if err != nil {
		return persistence.TaskRecord{}, err
	}
	if err := h.store.ValidateContextOwnership(ctx, rec.ContextID, scope.UserID); err != nil {
		return persistence.TaskRecord{}, err
	}
	return rec, nil
}

// taskFromRecord rebuilds the wire task from its persisted row. The
// status text, when present, is mirrored into a status message the way
// the builder does at terminal flush.
func taskFromRecord(rec persistence.TaskRecord, artifacts []a2a.Artifact) a2a.Task {
	status := a2a.TaskStatus{
		State:     rec.State,
		Timestamp: rec.UpdatedAt,
	}
	if rec.StatusText != "" {
		status.Message = &a2a.Message{
			MessageID: ids.NewMessageID(),
			Role:      a2a.RoleAgent,
			Parts:     []a2a.Part{a2a.TextPart{Text: rec.StatusText}},
			TaskID:    rec.ID,
			ContextID: rec.ContextID,
			Kind:      "message",
		}
	}

	var arts []a2a.Artifact
	if len(artifacts) > 0 {
		arts = artifacts
	}

	return a2a.Task{
		ID:        rec.ID,
		ContextID: rec.ContextID,
		Kind:      "task",
		Status:    status,
		Artifacts: arts,
		Metadata:  rec.Metadata,
	}
}

// rpcError maps core errors onto JSON-RPC error objects. Internal
// details never leak verbatim to clients.
func rpcError(err error) *a2a.Error {
	var rpc *a2a.Error
	if errors.As(err, &rpc) {
		return rpc
	}

	var invalid *persistence.InvalidDataError
	var badID *ids.ValidationError
	switch {
	case errors.Is(err, a2a.ErrNoTextContent),
		errors.Is(err, a2a.ErrAgentNotFound),
		errors.As(err, &invalid),
		errors.As(err, &badID):
		return &a2a.Error{Code: a2a.CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, persistence.ErrNotFound):
		return &a2a.Error{Code: a2a.CodeTaskNotFound, Message: "task not found"}
	default:
		return &a2a.Error{Code: a2a.CodeInternalError, Message: "internal error"}
	}
}
