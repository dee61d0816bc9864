package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/mcp"
	"github.com/loomhq/loom/internal/structured"
)

// Planner decision kinds.
const (
	planDirectResponse = "direct_response"
	planToolCalls      = "tool_calls"
)

// PlannedCall is one tool invocation chosen by the planner. Arguments is
// the raw JSON argument object passed through to the tool server.
type PlannedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// PlanningResult is the planner's structured decision: either the final
// answer itself, or a batch of tool calls with the rationale for them.
type PlanningResult struct {
	Type      string        `json:"type"`
	Response  string        `json:"response,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	ToolCalls []PlannedCall `json:"tool_calls,omitempty"`
}

func (p PlanningResult) isDirect() bool { return p.Type != planToolCalls || len(p.ToolCalls) == 0 }

const planSchemaJSON = `{
	"type": "object",
	"properties": {
		"type": {"type": "string", "enum": ["direct_response", "tool_calls"]},
		"response": {"type": "string"},
		"reasoning": {"type": "string"},
		"tool_calls": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"arguments": {"type": "object"}
				},
				"required": ["name"]
			}
		}
	},
	"required": ["type"]
}`

var planValidator = func() *structured.Validator {
	v, err := structured.NewValidator("planning_result", []byte(planSchemaJSON), false)
	if err != nil {
		panic(err)
	}
	return v
}()

// buildPlanningPrompt renders the planner instructions: the user request
// plus the discovered tool inventory, when there is one.
func buildPlanningPrompt(userText string, tools []mcp.ServerTool) string {
	var b strings.Builder
	b.WriteString("Decide how to answer the user request below.\n\n")
	b.WriteString("User request:\n")
	b.WriteString(userText)
	b.WriteString("\n\n")

	if len(tools) == 0 {
		b.WriteString("No tools are available. Respond with type \"direct_response\" and put your complete answer in \"response\".\n")
		return b.String()
	}

	b.WriteString("Available tools:\n")
	for _, st := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", st.Tool.Name, st.Tool.Description)
		if len(st.Tool.InputSchema) > 0 {
			fmt.Fprintf(&b, "  input schema: %s\n", string(st.Tool.InputSchema))
		}
	}
	b.WriteString("\nIf the request can be answered without tools, respond with type \"direct_response\" and the complete answer in \"response\".\n")
	b.WriteString("Otherwise respond with type \"tool_calls\", a short \"reasoning\", and the ordered \"tool_calls\" to run.\n")
	return b.String()
}

func parsePlan(jsonStr string) (PlanningResult, error) {
	var plan PlanningResult
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return PlanningResult{}, fmt.Errorf("parse planning result: %w", err)
	}
	return plan, nil
}
