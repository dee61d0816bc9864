package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
)

type fakeJob struct {
	name     string
	schedule string
	result   JobResult
	runs     int
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job" }
func (j *fakeJob) Schedule() string    { return j.schedule }
func (j *fakeJob) Execute(ctx context.Context, jc JobContext) JobResult {
	j.runs++
	return j.result
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openCronTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(Config{Store: openCronTestStore(t)})
	err := s.Register(&fakeJob{name: "broken", schedule: "not a schedule"})
	if err == nil {
		t.Fatal("Register accepted an unparseable schedule")
	}
}

func TestTickFiresDueJobAndRecordsRun(t *testing.T) {
	ctx := context.Background()
	store := openCronTestStore(t)
	s := NewScheduler(Config{Store: store})

	job := &fakeJob{
		name:     "sweeper",
		schedule: "* * * * * *", // every second
		result:   JobResult{Success: true, ItemsProcessed: 3},
	}
	if err := s.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.UpsertScheduledJob(ctx, job.name, job.schedule, true); err != nil {
		t.Fatalf("UpsertScheduledJob: %v", err)
	}

	s.tick(ctx, time.Now().Add(2*time.Second))
	if job.runs != 1 {
		t.Fatalf("runs = %d, want 1", job.runs)
	}

	rec, err := store.GetScheduledJob(ctx, "sweeper")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if rec.RunCount != 1 {
		t.Fatalf("run_count = %d, want 1", rec.RunCount)
	}
	if rec.LastStatus != "success" {
		t.Fatalf("last_status = %q", rec.LastStatus)
	}
	if rec.LastRun == nil || rec.NextRun == nil {
		t.Fatal("run timestamps not recorded")
	}
}

func TestTickSkipsJobsNotYetDue(t *testing.T) {
	ctx := context.Background()
	store := openCronTestStore(t)
	s := NewScheduler(Config{Store: store})

	job := &fakeJob{name: "hourly", schedule: "0 0 * * * *", result: JobResult{Success: true}}
	if err := s.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.tick(ctx, time.Now())
	if job.runs != 0 {
		t.Fatalf("runs = %d, want 0", job.runs)
	}
}

func TestFailedRunRecordsError(t *testing.T) {
	ctx := context.Background()
	store := openCronTestStore(t)
	s := NewScheduler(Config{Store: store})

	job := &fakeJob{
		name:     "flaky",
		schedule: "* * * * * *",
		result:   JobResult{Success: false, Message: "upstream unavailable"},
	}
	if err := s.Register(job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.UpsertScheduledJob(ctx, job.name, job.schedule, true); err != nil {
		t.Fatalf("UpsertScheduledJob: %v", err)
	}

	if err := s.RunNow(ctx, "flaky"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	rec, err := store.GetScheduledJob(ctx, "flaky")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if rec.LastStatus != "failed" {
		t.Fatalf("last_status = %q", rec.LastStatus)
	}
	if rec.LastError != "upstream unavailable" {
		t.Fatalf("last_error = %q", rec.LastError)
	}
}

// evalProvider scripts structured responses for the evaluator.
type evalProvider struct {
	response string
	calls    int
}

func (p *evalProvider) Name() string              { return "fake" }
func (p *evalProvider) DefaultModel() string      { return "fake-model" }
func (p *evalProvider) SupportsModel(string) bool { return true }
func (p *evalProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{StructuredOutput: true}
}
func (p *evalProvider) Pricing(string) provider.Pricing { return provider.DefaultPricing }

func (p *evalProvider) GenerateStructured(ctx context.Context, gp provider.GenerateParams) (*provider.AiResponse, error) {
	p.calls++
	return &provider.AiResponse{Content: p.response, Usage: provider.Usage{InputTokens: 5, OutputTokens: 2}}, nil
}

func (p *evalProvider) Generate(context.Context, provider.GenerateParams) (*provider.AiResponse, error) {
	return nil, errors.New("not scripted")
}
func (p *evalProvider) GenerateWithTools(context.Context, provider.GenerateParams) (*provider.AiResponse, error) {
	return nil, errors.New("not scripted")
}
func (p *evalProvider) GenerateWithSchema(ctx context.Context, gp provider.GenerateParams) (*provider.AiResponse, error) {
	return p.GenerateStructured(ctx, gp)
}
func (p *evalProvider) GenerateStream(context.Context, provider.GenerateParams, provider.StreamHandler) (*provider.AiResponse, error) {
	return nil, errors.New("not scripted")
}
func (p *evalProvider) GenerateWithToolsStream(context.Context, provider.GenerateParams, provider.StreamHandler) (*provider.AiResponse, error) {
	return nil, errors.New("not scripted")
}

func TestConversationEvaluatorScoresCompletedContexts(t *testing.T) {
	ctx := context.Background()
	store := openCronTestStore(t)

	cid := ids.NewContextID()
	if err := store.CreateContext(ctx, cid, ids.UserID("alice"), "", "math help"); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	tid := ids.NewTaskID()
	if err := store.CreateTask(ctx, tid, cid); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, tid, a2a.TaskStateCompleted, "2+2 is 4", ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	reg := provider.NewRegistry()
	fp := &evalProvider{response: `{"score":0.9,"summary":"clear and correct"}`}
	reg.Register(fp)

	job := NewConversationEvaluator(reg, "fake", "")
	res := job.Execute(ctx, JobContext{Store: store, Logger: testLogger()})
	if !res.Success {
		t.Fatalf("job failed: %s", res.Message)
	}
	if res.ItemsProcessed != 1 {
		t.Fatalf("processed = %d, want 1", res.ItemsProcessed)
	}

	rec, err := store.GetContext(ctx, cid)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if rec.EvaluatedAt == nil {
		t.Fatal("evaluated_at not set")
	}
	if rec.EvalScore == nil || *rec.EvalScore != 0.9 {
		t.Fatalf("eval_score = %v", rec.EvalScore)
	}
	if rec.EvalSummary != "clear and correct" {
		t.Fatalf("eval_summary = %q", rec.EvalSummary)
	}

	// A scored context leaves the evaluation queue.
	remaining, err := store.ListUnevaluatedCompletedContexts(ctx, 50)
	if err != nil {
		t.Fatalf("ListUnevaluatedCompletedContexts: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d, want 0", len(remaining))
	}
}
