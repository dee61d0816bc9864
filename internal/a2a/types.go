// Package a2a implements the agent-to-agent protocol surface of the core:
// the Task/Message/Artifact/Part wire model, inbound message validation,
// and task construction.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// TaskState is the lifecycle state of a task. Terminal states are
// completed, canceled, failed, and rejected.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
	TaskStateAuthRequired  TaskState = "auth-required"
)

// Terminal reports whether no further state changes are permitted.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	}
	return false
}

// Role is the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates the Part union on the wire.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
	PartKindFile PartKind = "file"
)

// Part is one element of a message or artifact payload.
type Part interface {
	Kind() PartKind
}

// TextPart carries plain text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) Kind() PartKind { return PartKindText }

// DataPart carries a structured JSON object.
type DataPart struct {
	Data map[string]any `json:"data"`
}

func (DataPart) Kind() PartKind { return PartKindData }

// FileContent is the body of a FilePart. Bytes is base64 on the wire.
type FileContent struct {
	Bytes    string `json:"bytes,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// FilePart carries file content inline or by name.
type FilePart struct {
	File FileContent `json:"file"`
}

func (FilePart) Kind() PartKind { return PartKindFile }

// partEnvelope is the wire form of any Part.
type partEnvelope struct {
	Kind PartKind        `json:"kind"`
	Text string          `json:"text,omitempty"`
	Data map[string]any  `json:"data,omitempty"`
	File *FileContent    `json:"file,omitempty"`
}

// marshalPart converts a Part into its wire envelope.
func marshalPart(p Part) (partEnvelope, error) {
	switch v := p.(type) {
	case TextPart:
		return partEnvelope{Kind: PartKindText, Text: v.Text}, nil
	case DataPart:
		return partEnvelope{Kind: PartKindData, Data: v.Data}, nil
	case FilePart:
		f := v.File
		return partEnvelope{Kind: PartKindFile, File: &f}, nil
	default:
		return partEnvelope{}, fmt.Errorf("unknown part type %T", p)
	}
}

// unmarshalPart converts a wire envelope back into a Part.
func unmarshalPart(env partEnvelope) (Part, error) {
	switch env.Kind {
	case PartKindText:
		return TextPart{Text: env.Text}, nil
	case PartKindData:
		return DataPart{Data: env.Data}, nil
	case PartKindFile:
		var f FileContent
		if env.File != nil {
			f = *env.File
		}
		return FilePart{File: f}, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q", env.Kind)
	}
}

func marshalParts(parts []Part) ([]partEnvelope, error) {
	out := make([]partEnvelope, len(parts))
	for i, p := range parts {
		env, err := marshalPart(p)
		if err != nil {
			return nil, err
		}
		out[i] = env
	}
	return out, nil
}

func unmarshalParts(envs []partEnvelope) ([]Part, error) {
	out := make([]Part, len(envs))
	for i, env := range envs {
		p, err := unmarshalPart(env)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// EncodePart renders a single part in its wire envelope form, for row
// storage.
func EncodePart(p Part) ([]byte, error) {
	env, err := marshalPart(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodePart reverses EncodePart.
func DecodePart(raw []byte) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return unmarshalPart(env)
}

// Message is a user or agent utterance.
type Message struct {
	MessageID        ids.MessageID `json:"messageId"`
	Role             Role          `json:"role"`
	Parts            []Part        `json:"parts"`
	TaskID           ids.TaskID    `json:"taskId,omitempty"`
	ContextID        ids.ContextID `json:"contextId,omitempty"`
	Kind             string        `json:"kind"`
	ReferenceTaskIDs []ids.TaskID  `json:"referenceTaskIds,omitempty"`
}

type messageEnvelope struct {
	MessageID        ids.MessageID  `json:"messageId"`
	Role             Role           `json:"role"`
	Parts            []partEnvelope `json:"parts"`
	TaskID           ids.TaskID     `json:"taskId,omitempty"`
	ContextID        ids.ContextID  `json:"contextId,omitempty"`
	Kind             string         `json:"kind"`
	ReferenceTaskIDs []ids.TaskID   `json:"referenceTaskIds,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	parts, err := marshalParts(m.Parts)
	if err != nil {
		return nil, err
	}
	kind := m.Kind
	if kind == "" {
		kind = "message"
	}
	return json.Marshal(messageEnvelope{
		MessageID:        m.MessageID,
		Role:             m.Role,
		Parts:            parts,
		TaskID:           m.TaskID,
		ContextID:        m.ContextID,
		Kind:             kind,
		ReferenceTaskIDs: m.ReferenceTaskIDs,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	parts, err := unmarshalParts(env.Parts)
	if err != nil {
		return err
	}
	m.MessageID = env.MessageID
	m.Role = env.Role
	m.Parts = parts
	m.TaskID = env.TaskID
	m.ContextID = env.ContextID
	m.Kind = env.Kind
	m.ReferenceTaskIDs = env.ReferenceTaskIDs
	return nil
}

// TextContent concatenates the message's text parts.
func (m Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// HasText reports whether the message contains at least one text part.
func (m Message) HasText() bool {
	for _, p := range m.Parts {
		if _, ok := p.(TextPart); ok {
			return true
		}
	}
	return false
}

// ArtifactMetadata is the typed metadata block attached to every artifact.
type ArtifactMetadata struct {
	ArtifactType   string             `json:"artifactType"`
	Source         string             `json:"source,omitempty"`
	ToolName       string             `json:"toolName,omitempty"`
	McpExecutionID ids.McpExecutionID `json:"mcpExecutionId,omitempty"`
	Fingerprint    string             `json:"fingerprint,omitempty"`
	SkillID        string             `json:"skillId,omitempty"`
	SkillName      string             `json:"skillName,omitempty"`
	ExecutionIndex int                `json:"executionIndex"`
	IsInternal     bool               `json:"isInternal,omitempty"`
	RenderingHints map[string]any     `json:"renderingHints,omitempty"`
	McpSchema      json.RawMessage    `json:"mcpSchema,omitempty"`
}

// Artifact is a typed structured output produced by one tool execution.
type Artifact struct {
	ArtifactID  ids.ArtifactID   `json:"artifactId"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Parts       []Part           `json:"parts"`
	Metadata    ArtifactMetadata `json:"metadata"`
}

type artifactEnvelope struct {
	ArtifactID  ids.ArtifactID   `json:"artifactId"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Parts       []partEnvelope   `json:"parts"`
	Metadata    ArtifactMetadata `json:"metadata"`
}

func (a Artifact) MarshalJSON() ([]byte, error) {
	parts, err := marshalParts(a.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifactEnvelope{
		ArtifactID:  a.ArtifactID,
		Name:        a.Name,
		Description: a.Description,
		Parts:       parts,
		Metadata:    a.Metadata,
	})
}

func (a *Artifact) UnmarshalJSON(data []byte) error {
	var env artifactEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	parts, err := unmarshalParts(env.Parts)
	if err != nil {
		return err
	}
	a.ArtifactID = env.ArtifactID
	a.Name = env.Name
	a.Description = env.Description
	a.Parts = parts
	a.Metadata = env.Metadata
	return nil
}

// TaskStatus is the current state of a task with an optional status
// message and the time the state was entered.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is one agent turn: one incoming user message producing one
// response. Artifacts is nil (omitted on the wire) when the turn produced
// none; an empty array is a different statement and is never emitted.
type Task struct {
	ID        ids.TaskID     `json:"id"`
	ContextID ids.ContextID  `json:"contextId"`
	Kind      string         `json:"kind"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
