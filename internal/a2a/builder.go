package a2a

import (
	"time"

	"github.com/loomhq/loom/internal/ids"
)

// TaskBuilder assembles a canonical Task for the wire. The zero value is
// not usable; start with NewTaskBuilder.
type TaskBuilder struct {
	taskID       ids.TaskID
	contextID    ids.ContextID
	state        TaskState
	responseText string
	userMessage  *Message
	artifacts    []Artifact
	metadata     map[string]any
}

func NewTaskBuilder(taskID ids.TaskID, contextID ids.ContextID) *TaskBuilder {
	return &TaskBuilder{
		taskID:    taskID,
		contextID: contextID,
		state:     TaskStateCompleted,
	}
}

func (b *TaskBuilder) WithState(s TaskState) *TaskBuilder {
	b.state = s
	return b
}

// WithResponseText sets the agent's final answer; Build mirrors it into an
// agent message.
func (b *TaskBuilder) WithResponseText(text string) *TaskBuilder {
	b.responseText = text
	return b
}

// WithUserMessage attaches the originating user message so Build can emit
// a two-entry history.
func (b *TaskBuilder) WithUserMessage(msg Message) *TaskBuilder {
	m := msg
	b.userMessage = &m
	return b
}

func (b *TaskBuilder) WithArtifacts(arts []Artifact) *TaskBuilder {
	b.artifacts = arts
	return b
}

func (b *TaskBuilder) WithMetadata(md map[string]any) *TaskBuilder {
	b.metadata = md
	return b
}

// Build assembles the task. The agent response message mirrors the
// response text; history is [user, agent] when the user message is
// attached and [agent] otherwise. Artifacts stay nil when empty so the
// field is omitted on the wire.
func (b *TaskBuilder) Build() Task {
	agentMsg := Message{
		MessageID: ids.NewMessageID(),
		Role:      RoleAgent,
		Parts:     []Part{TextPart{Text: b.responseText}},
		TaskID:    b.taskID,
		ContextID: b.contextID,
		Kind:      "message",
	}

	var history []Message
	if b.userMessage != nil {
		history = []Message{*b.userMessage, agentMsg}
	} else {
		history = []Message{agentMsg}
	}

	var artifacts []Artifact
	if len(b.artifacts) > 0 {
		artifacts = b.artifacts
	}

	return Task{
		ID:        b.taskID,
		ContextID: b.contextID,
		Kind:      "task",
		Status: TaskStatus{
			State:     b.state,
			Message:   &agentMsg,
			Timestamp: time.Now().UTC(),
		},
		History:   history,
		Artifacts: artifacts,
		Metadata:  b.metadata,
	}
}

// BuildCanceledTask builds the canceled view returned by tasks/cancel.
// It does not touch the running strategy; the store's terminal flush wins.
func BuildCanceledTask(taskID ids.TaskID, contextID ids.ContextID) Task {
	return Task{
		ID:        taskID,
		ContextID: contextID,
		Kind:      "task",
		Status: TaskStatus{
			State:     TaskStateCanceled,
			Timestamp: time.Now().UTC(),
		},
	}
}
