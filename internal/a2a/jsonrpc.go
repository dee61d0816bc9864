package a2a

import "encoding/json"

// Inbound JSON-RPC 2.0 methods handled by the core. Push-notification
// config methods are delegated to the outer layer and never reach here.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksGet      = "tasks/get"
	MethodTasksCancel   = "tasks/cancel"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// JSON-RPC error codes used by the core.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskNotFound   = -32001
)

// MessageSendParams carries the message for message/send and
// message/stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskQueryParams identifies a task for tasks/get.
type TaskQueryParams struct {
	ID string `json:"id"`
}

// TaskCancelParams identifies a task for tasks/cancel.
type TaskCancelParams struct {
	ID string `json:"id"`
}
