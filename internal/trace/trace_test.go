package trace

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
)

func seedTask(t *testing.T) (*persistence.Store, ids.TaskID) {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cid := ids.NewContextID()
	if err := store.CreateContext(ctx, cid, ids.UserID("alice"), "", "arithmetic"); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	tid := ids.NewTaskID()
	if err := store.CreateTask(ctx, tid, cid); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	sid := ids.NewStepID()
	if err := store.CreateExecutionStep(ctx, persistence.ExecutionStepRecord{
		ID: sid, TaskID: tid, StepType: persistence.StepTypePlanning, Title: "Planning",
	}); err != nil {
		t.Fatalf("CreateExecutionStep: %v", err)
	}
	if err := store.CompleteExecutionStep(ctx, sid, 12); err != nil {
		t.Fatalf("CompleteExecutionStep: %v", err)
	}

	rid := ids.NewAiRequestID()
	if err := store.StartAiRequest(ctx, persistence.AiRequestRecord{
		ID: rid, TaskID: tid, ContextID: cid, Provider: "anthropic", Model: "claude-3-5-sonnet",
		SystemPrompt: "You are helpful.",
	}); err != nil {
		t.Fatalf("StartAiRequest: %v", err)
	}
	if err := store.AppendAiRequestMessages(ctx, rid, []persistence.AiRequestMessage{
		{Role: "user", Content: "Add 3 and 5"},
	}); err != nil {
		t.Fatalf("AppendAiRequestMessages: %v", err)
	}
	if err := store.AppendAiRequestToolCalls(ctx, rid, []persistence.AiRequestToolCall{
		{ToolCallID: "plan-0", ToolName: "add", ArgumentsJSON: `{"a":3,"b":5}`},
	}); err != nil {
		t.Fatalf("AppendAiRequestToolCalls: %v", err)
	}
	if err := store.CompleteAiRequest(ctx, rid, persistence.AiRequestCompletion{
		InputTokens: 10, OutputTokens: 5, CostMicrodollars: 105, LatencyMs: 40,
		ResponseContent: `{"type":"tool_calls"}`,
	}); err != nil {
		t.Fatalf("CompleteAiRequest: %v", err)
	}

	if err := store.StartMcpExecution(ctx, persistence.McpExecutionRecord{
		ID: ids.McpExecutionID("mcp-1"), TaskID: tid, ContextID: cid,
		ServerName: "calc", ToolName: "add", InputJSON: `{"a":3,"b":5}`,
	}); err != nil {
		t.Fatalf("StartMcpExecution: %v", err)
	}
	if err := store.CompleteMcpExecution(ctx, ids.McpExecutionID("mcp-1"), `{"result":8}`, 3); err != nil {
		t.Fatalf("CompleteMcpExecution: %v", err)
	}

	art := a2a.Artifact{
		ArtifactID: ids.NewArtifactID(),
		Name:       "add",
		Parts:      []a2a.Part{a2a.DataPart{Data: map[string]any{"result": float64(8)}}},
		Metadata: a2a.ArtifactMetadata{
			ArtifactType:   "add",
			Source:         "mcp_tool",
			ToolName:       "add",
			McpExecutionID: ids.McpExecutionID("mcp-1"),
		},
	}
	if err := store.UpsertArtifact(ctx, tid, cid, art); err != nil {
		t.Fatalf("UpsertArtifact: %v", err)
	}

	if err := store.UpdateTaskStatus(ctx, tid, a2a.TaskStateCompleted, "3 plus 5 is 8.", ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	return store, tid
}

func TestAssembleByPrefix(t *testing.T) {
	ctx := context.Background()
	store, tid := seedTask(t)
	svc := NewService(store)

	tr, err := svc.Assemble(ctx, tid.String()[:8])
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if tr.Task.ID != tid {
		t.Fatalf("task = %q, want %q", tr.Task.ID, tid)
	}
	if tr.Context.Name != "arithmetic" {
		t.Fatalf("context name = %q", tr.Context.Name)
	}
	if len(tr.Steps) != 1 || tr.Steps[0].StepType != persistence.StepTypePlanning {
		t.Fatalf("steps = %+v", tr.Steps)
	}
	if len(tr.Requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(tr.Requests))
	}
	rt := tr.Requests[0]
	if len(rt.Messages) != 1 || rt.Messages[0].Content != "Add 3 and 5" {
		t.Fatalf("messages = %+v", rt.Messages)
	}
	if len(rt.ToolCalls) != 1 || rt.ToolCalls[0].ToolName != "add" {
		t.Fatalf("tool calls = %+v", rt.ToolCalls)
	}
	if len(tr.Executions) != 1 || tr.Executions[0].ID != ids.McpExecutionID("mcp-1") {
		t.Fatalf("executions = %+v", tr.Executions)
	}
	if len(tr.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(tr.Artifacts))
	}
	if tr.FinalResponse != "3 plus 5 is 8." {
		t.Fatalf("final response = %q", tr.FinalResponse)
	}
}

func TestAssembleUnknownPrefix(t *testing.T) {
	store, _ := seedTask(t)
	svc := NewService(store)

	if _, err := svc.Assemble(context.Background(), "zzzzzzzz"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAssembleAmbiguousPrefix(t *testing.T) {
	ctx := context.Background()
	store, tid := seedTask(t)

	// A second task sharing the first characters makes the prefix ambiguous.
	cid := ids.NewContextID()
	if err := store.CreateContext(ctx, cid, ids.UserID("alice"), "", ""); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	twin := ids.TaskID(tid.String()[:8] + "-twin-task")
	if err := store.CreateTask(ctx, twin, cid); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	svc := NewService(store)
	var invalid *persistence.InvalidDataError
	if _, err := svc.Assemble(ctx, tid.String()[:8]); !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidDataError for ambiguous prefix", err)
	}
}

func TestRenderIncludesEverySection(t *testing.T) {
	ctx := context.Background()
	store, tid := seedTask(t)
	svc := NewService(store)

	tr, err := svc.Assemble(ctx, tid.String())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	out := Render(tr)
	for _, want := range []string{
		tid.String(),
		"completed",
		"planning",
		"anthropic/claude-3-5-sonnet",
		"Add 3 and 5",
		"calc/add",
		"mcp-1",
		"3 plus 5 is 8.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered trace missing %q:\n%s", want, out)
		}
	}
}
