package a2a

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/shared"
)

// Validation failures surfaced to the caller as 400-class errors.
var (
	ErrNoTextContent = errors.New("no text content")
	ErrAgentNotFound = errors.New("agent not found")
)

// AgentRuntime is the configuration the core needs about the agent a
// message is addressed to.
type AgentRuntime struct {
	Name         string
	Provider     string
	Model        string
	SystemPrompt string
	McpServers   []string
}

// HasTools reports whether the agent has any MCP servers configured.
func (a AgentRuntime) HasTools() bool { return len(a.McpServers) > 0 }

// AgentLookup resolves an agent runtime config by name.
type AgentLookup interface {
	AgentByName(name string) (AgentRuntime, bool)
}

// OwnershipValidator checks that a context belongs to a user. It must
// return a not-found error (never a distinct "forbidden") when it does
// not, so callers cannot probe for foreign context ids.
type OwnershipValidator interface {
	ValidateContextOwnership(ctx context.Context, contextID ids.ContextID, userID ids.UserID) error
}

// ValidatedRequest is the outcome of admitting an inbound message: the
// ids the strategy will execute under, plus the resolved agent.
type ValidatedRequest struct {
	Message    Message
	Agent      AgentRuntime
	TaskID     ids.TaskID
	ContextID  ids.ContextID
	NewContext bool
	HasTools   bool
}

// ValidateMessageRequest admits an inbound message: the message must carry
// text, the agent must exist, and when the message names a context the
// requesting user must own it. Task and context ids are allocated here
// when the message does not supply them.
func ValidateMessageRequest(ctx context.Context, msg Message, scope shared.Scope, agents AgentLookup, owners OwnershipValidator) (ValidatedRequest, error) {
	if !msg.HasText() {
		return ValidatedRequest{}, ErrNoTextContent
	}

	agent, ok := agents.AgentByName(scope.AgentName)
	if !ok {
		return ValidatedRequest{}, fmt.Errorf("%w: %q", ErrAgentNotFound, scope.AgentName)
	}

	contextID := msg.ContextID
	newContext := contextID == ""
	if newContext {
		contextID = ids.NewContextID()
	} else {
		if err := owners.ValidateContextOwnership(ctx, contextID, scope.UserID); err != nil {
			return ValidatedRequest{}, err
		}
	}

	taskID := msg.TaskID
	if taskID == "" {
		taskID = ids.NewTaskID()
	}

	return ValidatedRequest{
		Message:    msg,
		Agent:      agent,
		TaskID:     taskID,
		ContextID:  contextID,
		NewContext: newContext,
		HasTools:   agent.HasTools(),
	}, nil
}
