package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/structured"
)

const evaluatorBatchSize = 50

const evaluatorRubric = `Rate the conversation below on how well the assistant resolved the user's request.

Scoring rubric:
- 1.0: fully resolved, accurate, and concise
- 0.7: resolved with minor gaps or verbosity
- 0.4: partially resolved or partially accurate
- 0.0: unresolved, wrong, or failed

Conversation:
%s

Respond with a JSON object containing "score" (0 to 1) and a one-sentence "summary".`

const evalSchemaJSON = `{
	"type": "object",
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"summary": {"type": "string"}
	},
	"required": ["score", "summary"]
}`

var evalValidator = func() *structured.Validator {
	v, err := structured.NewValidator("conversation_evaluation", []byte(evalSchemaJSON), false)
	if err != nil {
		panic(err)
	}
	return v
}()

type evaluation struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// ConversationEvaluator scores completed conversations against a fixed
// rubric. It runs every five minutes over at most 50 unevaluated
// contexts; a context that fails to evaluate is retried on a later run.
type ConversationEvaluator struct {
	providers    *provider.Registry
	providerName string
	model        string
}

func NewConversationEvaluator(providers *provider.Registry, providerName, model string) *ConversationEvaluator {
	return &ConversationEvaluator{providers: providers, providerName: providerName, model: model}
}

func (e *ConversationEvaluator) Name() string { return "conversation_evaluator" }

func (e *ConversationEvaluator) Description() string {
	return "scores completed conversations against a quality rubric"
}

func (e *ConversationEvaluator) Schedule() string { return "0 */5 * * * *" }

func (e *ConversationEvaluator) Execute(ctx context.Context, jc JobContext) JobResult {
	started := time.Now()

	contexts, err := jc.Store.ListUnevaluatedCompletedContexts(ctx, evaluatorBatchSize)
	if err != nil {
		return JobResult{Success: false, Message: fmt.Sprintf("list contexts: %v", err)}
	}

	processed, failed := 0, 0
	for _, c := range contexts {
		if err := e.evaluateOne(ctx, jc, c); err != nil {
			jc.Logger.Warn("context evaluation failed", "context_id", c.ID, "error", err)
			failed++
			continue
		}
		processed++
	}

	return JobResult{
		Success:        failed == 0,
		Message:        fmt.Sprintf("evaluated %d of %d contexts", processed, len(contexts)),
		ItemsProcessed: processed,
		ItemsFailed:    failed,
		DurationMs:     time.Since(started).Milliseconds(),
	}
}

func (e *ConversationEvaluator) evaluateOne(ctx context.Context, jc JobContext, c persistence.ContextRecord) error {
	transcript, err := e.transcript(ctx, jc.Store, c)
	if err != nil {
		return err
	}
	if transcript == "" {
		// Nothing to score; mark it so it stops recirculating.
		return jc.Store.SaveContextEvaluation(ctx, c.ID, 0, "no conversation content")
	}

	prov, model, err := e.providers.Resolve(e.providerName, e.model)
	if err != nil {
		return err
	}

	gen := func(ctx context.Context, prompt string) (string, error) {
		resp, err := prov.GenerateStructured(ctx, provider.GenerateParams{
			Model:    model,
			Messages: []provider.AiMessage{{Role: provider.RoleUser, Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	prompt := fmt.Sprintf(evaluatorRubric, transcript)
	jsonStr, _, err := structured.GenerateValidated(ctx, gen, prompt, evalValidator, structured.DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("evaluate context %s: %w", c.ID, err)
	}

	var ev evaluation
	if err := json.Unmarshal([]byte(jsonStr), &ev); err != nil {
		return fmt.Errorf("parse evaluation: %w", err)
	}
	return jc.Store.SaveContextEvaluation(ctx, c.ID, ev.Score, ev.Summary)
}

func (e *ConversationEvaluator) transcript(ctx context.Context, store *persistence.Store, c persistence.ContextRecord) (string, error) {
	tasks, err := store.ListTasksByContext(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("list tasks for %s: %w", c.ID, err)
	}
	var b strings.Builder
	if c.Name != "" {
		fmt.Fprintf(&b, "Topic: %s\n", c.Name)
	}
	for _, t := range tasks {
		if t.StatusText == "" {
			continue
		}
		fmt.Fprintf(&b, "Assistant: %s\n", t.StatusText)
	}
	return strings.TrimSpace(b.String()), nil
}
