// Package trace assembles the full execution record of a task for
// inspection: its lifecycle, every LLM call with its conversation, every
// tool invocation, and the artifacts produced. Read only.
package trace

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/persistence"
)

// RequestTrace is one LLM call with its recorded conversation.
type RequestTrace struct {
	Request   persistence.AiRequestRecord
	Messages  []persistence.AiRequestMessage
	ToolCalls []persistence.AiRequestToolCall
}

// Trace is the assembled execution record of one task.
type Trace struct {
	Task          persistence.TaskRecord
	Context       persistence.ContextRecord
	Steps         []persistence.ExecutionStepRecord
	Requests      []RequestTrace
	Executions    []persistence.McpExecutionRecord
	Artifacts     []a2a.Artifact
	FinalResponse string
}

// Service assembles traces from the store.
type Service struct {
	store *persistence.Store
}

func NewService(store *persistence.Store) *Service {
	return &Service{store: store}
}

// Assemble resolves the task id, which may be a unique prefix, and
// gathers everything recorded against it. Zero or multiple prefix
// matches fail.
func (s *Service) Assemble(ctx context.Context, taskIDOrPrefix string) (*Trace, error) {
	task, err := s.store.FindTaskByPrefix(ctx, taskIDOrPrefix)
	if err != nil {
		return nil, err
	}

	cRec, err := s.store.GetContext(ctx, task.ContextID)
	if err != nil {
		return nil, fmt.Errorf("load context for task %s: %w", task.ID, err)
	}

	steps, err := s.store.ListStepsByTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	reqs, err := s.store.ListAiRequestsByTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	requests := make([]RequestTrace, 0, len(reqs))
	for _, r := range reqs {
		msgs, err := s.store.ListAiRequestMessages(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		calls, err := s.store.ListAiRequestToolCalls(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		requests = append(requests, RequestTrace{Request: r, Messages: msgs, ToolCalls: calls})
	}

	execs, err := s.store.ListMcpExecutionsByTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	arts, err := s.store.ListArtifactsByTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	return &Trace{
		Task:          task,
		Context:       cRec,
		Steps:         steps,
		Requests:      requests,
		Executions:    execs,
		Artifacts:     arts,
		FinalResponse: task.StatusText,
	}, nil
}

// Render formats a trace as indented text for terminal display.
func Render(tr *Trace) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task %s [%s]\n", tr.Task.ID, tr.Task.State)
	fmt.Fprintf(&b, "  context: %s", tr.Context.ID)
	if tr.Context.Name != "" {
		fmt.Fprintf(&b, " (%s)", tr.Context.Name)
	}
	b.WriteString("\n")
	if tr.Task.ErrorMessage != "" {
		fmt.Fprintf(&b, "  error: %s\n", tr.Task.ErrorMessage)
	}

	if len(tr.Steps) > 0 {
		b.WriteString("\nSteps:\n")
		for _, st := range tr.Steps {
			fmt.Fprintf(&b, "  %-16s %-10s", st.StepType, st.Status)
			if st.DurationMs != nil {
				fmt.Fprintf(&b, " %dms", *st.DurationMs)
			}
			if st.ErrorMessage != "" {
				fmt.Fprintf(&b, "  %s", st.ErrorMessage)
			}
			b.WriteString("\n")
		}
	}

	if len(tr.Requests) > 0 {
		b.WriteString("\nAI requests:\n")
		for _, rt := range tr.Requests {
			r := rt.Request
			fmt.Fprintf(&b, "  %s/%s [%s]", r.Provider, r.Model, r.Status)
			if r.LatencyMs != nil {
				fmt.Fprintf(&b, " %dms", *r.LatencyMs)
			}
			fmt.Fprintf(&b, " in=%d out=%d cost_microdollars=%d\n", r.InputTokens, r.OutputTokens, r.CostMicrodollars)
			if r.SystemPrompt != "" {
				fmt.Fprintf(&b, "    system: %s\n", truncate(r.SystemPrompt, 120))
			}
			for _, m := range rt.Messages {
				fmt.Fprintf(&b, "    %s: %s\n", m.Role, truncate(m.Content, 120))
			}
			for _, c := range rt.ToolCalls {
				fmt.Fprintf(&b, "    tool call %s(%s)\n", c.ToolName, truncate(c.ArgumentsJSON, 80))
			}
			if r.ResponseContent != "" {
				fmt.Fprintf(&b, "    response: %s\n", truncate(r.ResponseContent, 120))
			}
			if r.ErrorMessage != "" {
				fmt.Fprintf(&b, "    error: %s\n", r.ErrorMessage)
			}
		}
	}

	if len(tr.Executions) > 0 {
		b.WriteString("\nTool executions:\n")
		for _, e := range tr.Executions {
			fmt.Fprintf(&b, "  %s %s/%s [%s]", e.ID, e.ServerName, e.ToolName, e.Status)
			if e.ExecutionTimeMs != nil {
				fmt.Fprintf(&b, " %dms", *e.ExecutionTimeMs)
			}
			b.WriteString("\n")
			if e.InputJSON != "" {
				fmt.Fprintf(&b, "    input: %s\n", truncate(e.InputJSON, 120))
			}
			if e.ErrorMessage != "" {
				fmt.Fprintf(&b, "    error: %s\n", e.ErrorMessage)
			}
		}
	}

	if len(tr.Artifacts) > 0 {
		b.WriteString("\nArtifacts:\n")
		for _, a := range tr.Artifacts {
			fmt.Fprintf(&b, "  %s %s (%d parts, execution %d)\n",
				a.ArtifactID, a.Name, len(a.Parts), a.Metadata.ExecutionIndex)
		}
	}

	if tr.FinalResponse != "" {
		b.WriteString("\nResponse:\n")
		fmt.Fprintf(&b, "  %s\n", tr.FinalResponse)
	}

	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
