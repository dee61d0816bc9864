// Package strategy runs the planned execution state machine for one
// inbound message: understand the request, discover tools, plan, execute
// the chosen tools, build artifacts, synthesize, and complete the task.
// Every phase leaves an execution step row; every failure leaves the task
// in a terminal failed state with its cause.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/mcp"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/resilience"
	"github.com/loomhq/loom/internal/shared"
	"github.com/loomhq/loom/internal/stream"
	"github.com/loomhq/loom/internal/structured"
	"github.com/loomhq/loom/internal/telemetry"
	"github.com/loomhq/loom/internal/uirender"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// ToolRunner is the tool surface the strategy executes against.
// *mcp.Manager satisfies it.
type ToolRunner interface {
	DiscoverTools(ctx context.Context, serverNames []string) []mcp.ServerTool
	CallTool(ctx context.Context, server, tool string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// Strategy executes one validated message end to end. One Execute call
// runs on one goroutine; concurrent tasks share the store, providers,
// and tool clients.
type Strategy struct {
	store     *persistence.Store
	providers *provider.Registry
	tools     ToolRunner
	events    *stream.Broadcaster
	logger    *slog.Logger

	retry       resilience.RetryConfig
	callTimeout time.Duration
	metrics     *telemetry.Metrics
	renderers   *uirender.Registry
	tracer      trace.Tracer
}

func New(store *persistence.Store, providers *provider.Registry, tools ToolRunner, events *stream.Broadcaster, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	retry := resilience.DefaultRetryConfig()
	retry.Retryable = provider.IsRetryable
	return &Strategy{
		store:       store,
		providers:   providers,
		tools:       tools,
		events:      events,
		logger:      logger,
		retry:       retry,
		callTimeout: resilience.TimeoutDefault,
		tracer:      nooptrace.NewTracerProvider().Tracer(telemetry.TracerName),
	}
}

// SetMetrics attaches telemetry instruments. Safe to skip; a nil
// metrics set records nothing.
func (s *Strategy) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// SetRenderers attaches the embedded-UI registry. Artifacts whose type
// has a renderer carry the rendered HTML and CSP in their hints.
func (s *Strategy) SetRenderers(r *uirender.Registry) {
	s.renderers = r
}

// SetTracer replaces the default noop tracer.
func (s *Strategy) SetTracer(t trace.Tracer) {
	if t != nil {
		s.tracer = t
	}
}

// Execute runs the state machine for one admitted request and returns the
// completed task. On error the task row is terminally failed with the
// error message and subscribers receive a final error event.
func (s *Strategy) Execute(ctx context.Context, req a2a.ValidatedRequest) (a2a.Task, error) {
	scope := shared.ScopeFrom(ctx)
	ctx = shared.WithTaskID(ctx, req.TaskID)
	log := s.logger.With("task_id", req.TaskID, "agent", req.Agent.Name)

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "task.execute",
		telemetry.AttrTaskID.String(req.TaskID.String()),
		telemetry.AttrContextID.String(req.ContextID.String()),
		telemetry.AttrAgentName.String(req.Agent.Name),
	)
	defer span.End()

	if s.metrics != nil {
		executeStarted := time.Now()
		agentAttr := metric.WithAttributes(telemetry.AttrAgentName.String(req.Agent.Name))
		s.metrics.ActiveTasks.Add(ctx, 1, agentAttr)
		defer func() {
			s.metrics.ActiveTasks.Add(ctx, -1, agentAttr)
			s.metrics.TaskDuration.Record(ctx, time.Since(executeStarted).Seconds(), agentAttr)
		}()
	}

	if req.NewContext {
		if err := s.store.CreateContext(ctx, req.ContextID, scope.UserID, scope.SessionID, contextName(req.Message.TextContent())); err != nil {
			return a2a.Task{}, fmt.Errorf("create context: %w", err)
		}
	}
	if err := s.store.CreateTask(ctx, req.TaskID, req.ContextID); err != nil {
		return a2a.Task{}, fmt.Errorf("create task: %w", err)
	}
	if err := s.store.UpdateTaskStatus(ctx, req.TaskID, a2a.TaskStateWorking, "executing", ""); err != nil {
		return a2a.Task{}, fmt.Errorf("mark task working: %w", err)
	}

	task, err := s.run(ctx, scope, req, log)
	if err != nil {
		span.RecordError(err)
		log.Error("task failed", "error", err)
		if uerr := s.store.UpdateTaskStatus(ctx, req.TaskID, a2a.TaskStateFailed, "", err.Error()); uerr != nil {
			log.Error("failed to record task failure", "error", uerr)
		}
		s.publish(scope.UserID, stream.Event{Type: stream.EventError, TaskID: req.TaskID, Text: err.Error()})
		return a2a.Task{}, err
	}
	return task, nil
}

func (s *Strategy) run(ctx context.Context, scope shared.Scope, req a2a.ValidatedRequest, log *slog.Logger) (a2a.Task, error) {
	step, err := s.beginStep(ctx, scope.UserID, req.TaskID, persistence.StepTypeUnderstanding, "Understanding request")
	if err != nil {
		return a2a.Task{}, err
	}
	step.complete(ctx)

	var tools []mcp.ServerTool
	if req.HasTools {
		step, err = s.beginStep(ctx, scope.UserID, req.TaskID, persistence.StepTypeListTools, "Discovering tools")
		if err != nil {
			return a2a.Task{}, err
		}
		tools = s.tools.DiscoverTools(ctx, req.Agent.McpServers)
		log.Debug("discovered tools", "count", len(tools))
		step.complete(ctx)
	}

	step, err = s.beginStep(ctx, scope.UserID, req.TaskID, persistence.StepTypePlanning, "Planning")
	if err != nil {
		return a2a.Task{}, err
	}
	plan, err := s.plan(ctx, scope, req, tools)
	if err != nil {
		step.fail(ctx, err)
		return a2a.Task{}, err
	}
	step.complete(ctx)

	var artifacts []a2a.Artifact
	responseText := plan.Response

	if plan.isDirect() {
		s.publish(scope.UserID, stream.Event{Type: stream.EventTextDelta, TaskID: req.TaskID, Text: responseText})
	} else {
		toolText, arts, terr := s.executeTools(ctx, scope, req, tools, plan)
		if terr != nil {
			return a2a.Task{}, terr
		}
		artifacts = arts

		synth, serr := s.synthesize(ctx, scope, req, plan, toolText)
		if serr != nil {
			// Synthesis never sinks the task; the tool output stands in.
			log.Warn("synthesis failed, falling back to tool output", "error", serr)
			responseText = toolText
		} else {
			responseText = synth
		}
	}

	if err := s.store.UpdateTaskStatus(ctx, req.TaskID, a2a.TaskStateCompleted, responseText, ""); err != nil {
		return a2a.Task{}, fmt.Errorf("complete task: %w", err)
	}

	task := a2a.NewTaskBuilder(req.TaskID, req.ContextID).
		WithState(a2a.TaskStateCompleted).
		WithResponseText(responseText).
		WithUserMessage(req.Message).
		WithArtifacts(artifacts).
		Build()
	s.publish(scope.UserID, stream.Event{Type: stream.EventTaskCompleted, TaskID: req.TaskID, Task: &task})
	return task, nil
}

// plan asks the model to choose between answering directly and running
// tools. The call is recorded as one AiRequest covering all validation
// retries, with token usage summed across attempts.
func (s *Strategy) plan(ctx context.Context, scope shared.Scope, req a2a.ValidatedRequest, tools []mcp.ServerTool) (PlanningResult, error) {
	prov, model, err := s.providers.Resolve(req.Agent.Provider, req.Agent.Model)
	if err != nil {
		return PlanningResult{}, err
	}

	ctx, span := telemetry.StartClientSpan(ctx, s.tracer, "llm.plan",
		telemetry.AttrProvider.String(prov.Name()),
		telemetry.AttrModel.String(model),
	)
	defer span.End()

	rid := ids.NewAiRequestID()
	if err := s.store.StartAiRequest(ctx, persistence.AiRequestRecord{
		ID:           rid,
		TaskID:       req.TaskID,
		ContextID:    req.ContextID,
		SessionID:    scope.SessionID,
		UserID:       scope.UserID,
		TraceID:      scope.TraceID,
		Provider:     prov.Name(),
		Model:        model,
		SystemPrompt: req.Agent.SystemPrompt,
	}); err != nil {
		return PlanningResult{}, fmt.Errorf("start planning request: %w", err)
	}

	started := time.Now()
	var total provider.Usage
	gen := func(ctx context.Context, prompt string) (string, error) {
		var resp *provider.AiResponse
		err := resilience.Retry(ctx, s.retry, func() error {
			return resilience.WithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
				r, gerr := prov.GenerateStructured(ctx, provider.GenerateParams{
					Model:    model,
					System:   req.Agent.SystemPrompt,
					Messages: []provider.AiMessage{{Role: provider.RoleUser, Content: prompt}},
				})
				if gerr != nil {
					return gerr
				}
				resp = r
				return nil
			})
		})
		if err != nil {
			return "", err
		}
		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens
		total.CacheReadTokens += resp.Usage.CacheReadTokens
		total.CacheCreationTokens += resp.Usage.CacheCreationTokens
		return resp.Content, nil
	}

	prompt := buildPlanningPrompt(req.Message.TextContent(), tools)
	s.countAiRequest(ctx, prov.Name(), model)
	jsonStr, _, err := structured.GenerateValidated(ctx, gen, prompt, planValidator, structured.DefaultMaxRetries)
	if err != nil {
		span.RecordError(err)
		if ferr := s.store.FailAiRequest(ctx, rid, time.Since(started).Milliseconds(), err.Error()); ferr != nil {
			s.logger.Error("failed to record planning failure", "ai_request_id", rid, "error", ferr)
		}
		return PlanningResult{}, fmt.Errorf("planning failed: %w", err)
	}
	span.SetAttributes(
		telemetry.AttrTokensInput.Int(total.InputTokens),
		telemetry.AttrTokensOutput.Int(total.OutputTokens),
	)

	cost := provider.CostMicrodollars(total, prov.Pricing(model))
	if err := s.store.CompleteAiRequest(ctx, rid, persistence.AiRequestCompletion{
		InputTokens:         total.InputTokens,
		OutputTokens:        total.OutputTokens,
		CacheReadTokens:     total.CacheReadTokens,
		CacheCreationTokens: total.CacheCreationTokens,
		CostMicrodollars:    cost,
		LatencyMs:           time.Since(started).Milliseconds(),
		ResponseContent:     jsonStr,
	}); err != nil {
		return PlanningResult{}, fmt.Errorf("complete planning request: %w", err)
	}
	s.countAiUsage(ctx, prov.Name(), model, total, cost)
	if err := s.store.AppendAiRequestMessages(ctx, rid, []persistence.AiRequestMessage{
		{Role: string(provider.RoleUser), Content: prompt},
	}); err != nil {
		s.logger.Error("failed to record planning conversation", "ai_request_id", rid, "error", err)
	}

	plan, err := parsePlan(jsonStr)
	if err != nil {
		return PlanningResult{}, err
	}
	if len(plan.ToolCalls) > 0 {
		calls := make([]persistence.AiRequestToolCall, 0, len(plan.ToolCalls))
		for i, c := range plan.ToolCalls {
			calls = append(calls, persistence.AiRequestToolCall{
				ToolCallID:    fmt.Sprintf("plan-%d", i),
				ToolName:      c.Name,
				ArgumentsJSON: string(c.Arguments),
			})
		}
		if err := s.store.AppendAiRequestToolCalls(ctx, rid, calls); err != nil {
			s.logger.Error("failed to record planned tool calls", "ai_request_id", rid, "error", err)
		}
	}
	return plan, nil
}

// executeTools runs the planner's calls in order. Each call leaves an
// mcp_tool_executions audit row keyed by the server-minted execution id;
// tools with structured output become artifacts indexed by their batch
// position, text-only tools contribute conversation text.
func (s *Strategy) executeTools(ctx context.Context, scope shared.Scope, req a2a.ValidatedRequest, tools []mcp.ServerTool, plan PlanningResult) (string, []a2a.Artifact, error) {
	step, err := s.beginStep(ctx, scope.UserID, req.TaskID, persistence.StepTypeToolExecution, fmt.Sprintf("Executing %d tool calls", len(plan.ToolCalls)))
	if err != nil {
		return "", nil, err
	}

	serverFor := make(map[string]string, len(tools))
	schemaFor := make(map[string]json.RawMessage, len(tools))
	for _, st := range tools {
		serverFor[st.Tool.Name] = st.Server
		schemaFor[st.Tool.Name] = st.Tool.InputSchema
	}

	var texts []string
	var artifacts []a2a.Artifact
	for i, call := range plan.ToolCalls {
		server, ok := serverFor[call.Name]
		if !ok {
			err := fmt.Errorf("%w: %q", mcp.ErrToolNotFound, call.Name)
			step.fail(ctx, err)
			return "", nil, err
		}

		s.publish(scope.UserID, stream.Event{Type: stream.EventToolCallStarted, TaskID: req.TaskID, ToolName: call.Name})

		callStarted := time.Now()
		callCtx, callSpan := telemetry.StartClientSpan(ctx, s.tracer, "mcp.call_tool",
			telemetry.AttrMCPServer.String(server),
			telemetry.AttrToolName.String(call.Name),
		)
		result, cerr := s.tools.CallTool(callCtx, server, call.Name, call.Arguments)
		if cerr != nil {
			callSpan.RecordError(cerr)
		}
		callSpan.End()
		s.countToolCall(ctx, server, call.Name, callStarted, cerr != nil || (result != nil && result.IsError))
		if cerr != nil {
			// No result means no server-minted id; mint one locally so
			// the audit row still exists.
			execID := ids.McpExecutionID(uuid.NewString())
			s.recordFailedExecution(ctx, execID, req, server, call, callStarted, cerr)
			step.fail(ctx, cerr)
			return "", nil, fmt.Errorf("tool %q failed: %w", call.Name, cerr)
		}

		execID := ids.McpExecutionID(result.Meta.McpExecutionID)
		if result.IsError {
			cerr := fmt.Errorf("tool %q reported an error: %s", call.Name, resultText(result))
			s.recordFailedExecution(ctx, execID, req, server, call, callStarted, cerr)
			step.fail(ctx, cerr)
			return "", nil, cerr
		}

		if err := s.store.StartMcpExecution(ctx, persistence.McpExecutionRecord{
			ID:         execID,
			TaskID:     req.TaskID,
			ContextID:  req.ContextID,
			ServerName: server,
			ToolName:   call.Name,
			InputJSON:  string(call.Arguments),
		}); err != nil {
			step.fail(ctx, err)
			return "", nil, fmt.Errorf("record tool execution: %w", err)
		}
		execMs := result.Meta.ExecutionTimeMs
		if execMs == 0 {
			execMs = time.Since(callStarted).Milliseconds()
		}
		if err := s.store.CompleteMcpExecution(ctx, execID, encodeResult(result), execMs); err != nil {
			step.fail(ctx, err)
			return "", nil, fmt.Errorf("record tool result: %w", err)
		}

		s.publish(scope.UserID, stream.Event{Type: stream.EventToolCallCompleted, TaskID: req.TaskID, ToolName: call.Name, ToolCall: execID.String()})

		if len(result.StructuredContent) > 0 {
			art, terr := mcp.Transform(mcp.TransformInput{
				ToolName:       call.Name,
				Result:         result,
				Schema:         schemaFor[call.Name],
				ContextID:      req.ContextID,
				TaskID:         req.TaskID,
				ExecutionIndex: i,
			})
			if terr != nil {
				step.fail(ctx, terr)
				return "", nil, terr
			}
			if s.renderers != nil {
				if res := s.renderers.Render(art); res != nil {
					if art.Metadata.RenderingHints == nil {
						art.Metadata.RenderingHints = make(map[string]any, 2)
					}
					art.Metadata.RenderingHints["html"] = res.HTML
					art.Metadata.RenderingHints["csp"] = res.CSP
				}
			}
			if err := s.store.UpsertArtifact(ctx, req.TaskID, req.ContextID, art); err != nil {
				step.fail(ctx, err)
				return "", nil, fmt.Errorf("persist artifact: %w", err)
			}
			artifacts = append(artifacts, art)
			s.publish(scope.UserID, stream.Event{Type: stream.EventArtifactCreated, TaskID: req.TaskID, Artifact: &art})
			texts = append(texts, fmt.Sprintf("%s returned: %s", call.Name, string(result.StructuredContent)))
		} else if txt := resultText(result); txt != "" {
			// Ephemeral tool: its text joins the conversation but no
			// artifact is built.
			texts = append(texts, fmt.Sprintf("%s returned: %s", call.Name, txt))
		}
	}

	step.complete(ctx)
	return strings.Join(texts, "\n"), artifacts, nil
}

// synthesize streams the final answer grounded in the tool output. The
// AiRequest row is finalized by the storage writer exactly once whether
// the stream ends or errors.
func (s *Strategy) synthesize(ctx context.Context, scope shared.Scope, req a2a.ValidatedRequest, plan PlanningResult, toolText string) (string, error) {
	step, err := s.beginStep(ctx, scope.UserID, req.TaskID, persistence.StepTypeSynthesis, "Synthesizing response")
	if err != nil {
		return "", err
	}

	prov, model, err := s.providers.Resolve(req.Agent.Provider, req.Agent.Model)
	if err != nil {
		step.fail(ctx, err)
		return "", err
	}

	ctx, span := telemetry.StartClientSpan(ctx, s.tracer, "llm.synthesize",
		telemetry.AttrProvider.String(prov.Name()),
		telemetry.AttrModel.String(model),
	)
	defer span.End()

	rid := ids.NewAiRequestID()
	if err := s.store.StartAiRequest(ctx, persistence.AiRequestRecord{
		ID:           rid,
		TaskID:       req.TaskID,
		ContextID:    req.ContextID,
		SessionID:    scope.SessionID,
		UserID:       scope.UserID,
		TraceID:      scope.TraceID,
		Provider:     prov.Name(),
		Model:        model,
		SystemPrompt: req.Agent.SystemPrompt,
		IsStreaming:  true,
	}); err != nil {
		step.fail(ctx, err)
		return "", fmt.Errorf("start synthesis request: %w", err)
	}

	writer := stream.NewStorageWriter(s.store, rid, prov.Pricing(model))
	prompt := buildSynthesisPrompt(req.Message.TextContent(), plan.Reasoning, toolText)

	var resp *provider.AiResponse
	err = resilience.WithTimeout(ctx, s.callTimeout, func(ctx context.Context) error {
		r, gerr := prov.GenerateStream(ctx, provider.GenerateParams{
			Model:    model,
			System:   req.Agent.SystemPrompt,
			Messages: []provider.AiMessage{{Role: provider.RoleUser, Content: prompt}},
		}, func(delta string) error {
			writer.Write(delta)
			s.countStreamDelta(ctx)
			s.publish(scope.UserID, stream.Event{Type: stream.EventTextDelta, TaskID: req.TaskID, Text: delta})
			return nil
		})
		if gerr != nil {
			return gerr
		}
		resp = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if werr := writer.Fail(ctx, err); werr != nil {
			s.logger.Error("failed to record synthesis failure", "ai_request_id", rid, "error", werr)
		}
		step.fail(ctx, err)
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	span.SetAttributes(
		telemetry.AttrTokensInput.Int(resp.Usage.InputTokens),
		telemetry.AttrTokensOutput.Int(resp.Usage.OutputTokens),
	)

	if err := writer.Complete(ctx, resp.Usage); err != nil {
		s.logger.Error("failed to finalize synthesis request", "ai_request_id", rid, "error", err)
	}
	s.countAiRequest(ctx, prov.Name(), model)
	s.countAiUsage(ctx, prov.Name(), model, resp.Usage, provider.CostMicrodollars(resp.Usage, prov.Pricing(model)))
	if err := s.store.AppendAiRequestMessages(ctx, rid, []persistence.AiRequestMessage{
		{Role: string(provider.RoleUser), Content: prompt},
	}); err != nil {
		s.logger.Error("failed to record synthesis conversation", "ai_request_id", rid, "error", err)
	}

	step.complete(ctx)
	text := writer.Text()
	s.publish(scope.UserID, stream.Event{Type: stream.EventSynthesized, TaskID: req.TaskID, Text: text})
	return text, nil
}

func buildSynthesisPrompt(userText, reasoning, toolText string) string {
	var b strings.Builder
	b.WriteString("The user asked:\n")
	b.WriteString(userText)
	if reasoning != "" {
		b.WriteString("\n\nPlan rationale:\n")
		b.WriteString(reasoning)
	}
	b.WriteString("\n\nTool results:\n")
	b.WriteString(toolText)
	b.WriteString("\n\nWrite the final answer for the user, grounded in the tool results.")
	return b.String()
}

func (s *Strategy) recordFailedExecution(ctx context.Context, execID ids.McpExecutionID, req a2a.ValidatedRequest, server string, call PlannedCall, started time.Time, cause error) {
	if err := s.store.StartMcpExecution(ctx, persistence.McpExecutionRecord{
		ID:         execID,
		TaskID:     req.TaskID,
		ContextID:  req.ContextID,
		ServerName: server,
		ToolName:   call.Name,
		InputJSON:  string(call.Arguments),
	}); err != nil {
		s.logger.Error("failed to record tool execution", "mcp_execution_id", execID, "error", err)
		return
	}
	if err := s.store.FailMcpExecution(ctx, execID, cause.Error(), time.Since(started).Milliseconds()); err != nil {
		s.logger.Error("failed to record tool failure", "mcp_execution_id", execID, "error", err)
	}
}

type stepHandle struct {
	s       *Strategy
	rec     persistence.ExecutionStepRecord
	userID  ids.UserID
	started time.Time
}

func (s *Strategy) beginStep(ctx context.Context, userID ids.UserID, taskID ids.TaskID, stepType, title string) (*stepHandle, error) {
	rec := persistence.ExecutionStepRecord{
		ID:       ids.NewStepID(),
		TaskID:   taskID,
		StepType: stepType,
		Title:    title,
		Status:   persistence.StepRunning,
	}
	if err := s.store.CreateExecutionStep(ctx, rec); err != nil {
		return nil, fmt.Errorf("create %s step: %w", stepType, err)
	}
	s.publish(userID, stream.Event{Type: stream.EventExecutionStepUpdate, TaskID: taskID, Step: &rec})
	return &stepHandle{s: s, rec: rec, userID: userID, started: time.Now()}, nil
}

func (h *stepHandle) complete(ctx context.Context) {
	dur := time.Since(h.started).Milliseconds()
	if err := h.s.store.CompleteExecutionStep(ctx, h.rec.ID, dur); err != nil {
		h.s.logger.Error("failed to complete execution step", "step_id", h.rec.ID, "error", err)
	}
	rec := h.rec
	rec.Status = persistence.StepCompleted
	rec.DurationMs = &dur
	h.s.publish(h.userID, stream.Event{Type: stream.EventExecutionStepUpdate, TaskID: rec.TaskID, Step: &rec})
}

func (h *stepHandle) fail(ctx context.Context, cause error) {
	dur := time.Since(h.started).Milliseconds()
	if err := h.s.store.FailExecutionStep(ctx, h.rec.ID, dur, cause.Error()); err != nil {
		h.s.logger.Error("failed to record step failure", "step_id", h.rec.ID, "error", err)
	}
	rec := h.rec
	rec.Status = persistence.StepFailed
	rec.DurationMs = &dur
	rec.ErrorMessage = cause.Error()
	h.s.publish(h.userID, stream.Event{Type: stream.EventExecutionStepUpdate, TaskID: rec.TaskID, Step: &rec})
}

func (s *Strategy) countAiRequest(ctx context.Context, providerName, model string) {
	if s.metrics == nil {
		return
	}
	s.metrics.AiRequests.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrProvider.String(providerName),
		telemetry.AttrModel.String(model),
	))
}

func (s *Strategy) countAiUsage(ctx context.Context, providerName, model string, usage provider.Usage, cost int64) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		telemetry.AttrProvider.String(providerName),
		telemetry.AttrModel.String(model),
	)
	s.metrics.TokensUsed.Add(ctx, int64(usage.InputTokens+usage.OutputTokens), attrs)
	s.metrics.CostMicrodollars.Add(ctx, cost, attrs)
}

func (s *Strategy) countStreamDelta(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.StreamDeltas.Add(ctx, 1)
}

func (s *Strategy) countToolCall(ctx context.Context, server, tool string, started time.Time, failed bool) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		telemetry.AttrMCPServer.String(server),
		telemetry.AttrToolName.String(tool),
	)
	s.metrics.ToolCalls.Add(ctx, 1, attrs)
	s.metrics.ToolCallDuration.Record(ctx, time.Since(started).Seconds(), attrs)
	if failed {
		s.metrics.ToolCallErrors.Add(ctx, 1, attrs)
	}
}

func (s *Strategy) publish(userID ids.UserID, ev stream.Event) {
	if s.events != nil {
		s.events.Publish(userID, ev)
	}
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, item := range r.Content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func encodeResult(r *mcp.CallToolResult) string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// contextName derives a display name for a fresh context from the first
// line of the user's message.
func contextName(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}
