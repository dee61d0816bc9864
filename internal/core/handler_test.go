package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/shared"
	"github.com/loomhq/loom/internal/stream"
)

type fakeAgents map[string]a2a.AgentRuntime

func (f fakeAgents) AgentByName(name string) (a2a.AgentRuntime, bool) {
	a, ok := f[name]
	return a, ok
}

type fakeExecutor struct {
	calls int
	task  a2a.Task
	err   error
	run   func(ctx context.Context, req a2a.ValidatedRequest)
}

func (f *fakeExecutor) Execute(ctx context.Context, req a2a.ValidatedRequest) (a2a.Task, error) {
	f.calls++
	if f.run != nil {
		f.run(ctx, req)
	}
	return f.task, f.err
}

func openCoreTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAgents() fakeAgents {
	return fakeAgents{
		"assistant": {Name: "assistant", Provider: "anthropic", Model: "claude-3-5-sonnet-20241022"},
	}
}

func scopedContext(user ids.UserID) context.Context {
	return shared.WithScope(context.Background(), shared.Scope{
		UserID:    user,
		AgentName: "assistant",
	})
}

func textMessage(text string) a2a.Message {
	return a2a.Message{
		MessageID: ids.NewMessageID(),
		Role:      a2a.RoleUser,
		Parts:     []a2a.Part{a2a.TextPart{Text: text}},
		Kind:      "message",
	}
}

func TestMessageSendRunsExecutor(t *testing.T) {
	store := openCoreTestStore(t)
	taskID := ids.NewTaskID()
	contextID := ids.NewContextID()
	exec := &fakeExecutor{task: a2a.NewTaskBuilder(taskID, contextID).WithResponseText("4").Build()}
	h := New(store, testAgents(), exec, stream.NewBroadcaster(), testLogger())

	task, err := h.MessageSend(scopedContext("alice"), a2a.MessageSendParams{Message: textMessage("What is 2+2?")})
	if err != nil {
		t.Fatalf("MessageSend: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.calls)
	}
	if task.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("state = %s, want completed", task.Status.State)
	}
}

func TestMessageSendRejectsForeignContext(t *testing.T) {
	store := openCoreTestStore(t)
	contextID := ids.NewContextID()
	if err := store.CreateContext(context.Background(), contextID, "alice", ids.NewSessionID(), "alice's chat"); err != nil {
		t.Fatalf("seed context: %v", err)
	}

	exec := &fakeExecutor{}
	h := New(store, testAgents(), exec, stream.NewBroadcaster(), testLogger())

	msg := textMessage("read alice's notes")
	msg.ContextID = contextID
	_, err := h.MessageSend(scopedContext("bob"), a2a.MessageSendParams{Message: msg})
	if err == nil {
		t.Fatal("expected ownership rejection")
	}
	if exec.calls != 0 {
		t.Fatalf("executor ran %d times on a rejected message", exec.calls)
	}
	tasks, listErr := store.ListTasksByContext(context.Background(), contextID)
	if listErr != nil {
		t.Fatalf("list tasks: %v", listErr)
	}
	if len(tasks) != 0 {
		t.Fatalf("rejected message wrote %d tasks", len(tasks))
	}
	if got := rpcError(err); got.Code != a2a.CodeTaskNotFound {
		t.Fatalf("error code = %d, want %d (indistinguishable from absent)", got.Code, a2a.CodeTaskNotFound)
	}
}

func TestMessageSendRejectsEmptyText(t *testing.T) {
	store := openCoreTestStore(t)
	exec := &fakeExecutor{}
	h := New(store, testAgents(), exec, stream.NewBroadcaster(), testLogger())

	msg := a2a.Message{MessageID: ids.NewMessageID(), Role: a2a.RoleUser, Kind: "message"}
	_, err := h.MessageSend(scopedContext("alice"), a2a.MessageSendParams{Message: msg})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := rpcError(err); got.Code != a2a.CodeInvalidParams {
		t.Fatalf("error code = %d, want %d", got.Code, a2a.CodeInvalidParams)
	}
}

func seedTask(t *testing.T, store *persistence.Store, user ids.UserID, state a2a.TaskState, statusText string) persistence.TaskRecord {
	t.Helper()
	ctx := context.Background()
	contextID := ids.NewContextID()
	if err := store.CreateContext(ctx, contextID, user, ids.NewSessionID(), "chat"); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	taskID := ids.NewTaskID()
	if err := store.CreateTask(ctx, taskID, contextID); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, taskID, state, statusText, ""); err != nil {
		t.Fatalf("seed status: %v", err)
	}
	rec, err := store.GetTaskByID(ctx, taskID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	return rec
}

func TestTaskGetReturnsPersistedTask(t *testing.T) {
	store := openCoreTestStore(t)
	rec := seedTask(t, store, "alice", a2a.TaskStateCompleted, "3 plus 5 is 8.")
	h := New(store, testAgents(), &fakeExecutor{}, stream.NewBroadcaster(), testLogger())

	task, err := h.TaskGet(scopedContext("alice"), a2a.TaskQueryParams{ID: rec.ID.String()})
	if err != nil {
		t.Fatalf("TaskGet: %v", err)
	}
	if task.ID != rec.ID || task.ContextID != rec.ContextID {
		t.Fatalf("ids mismatch: %v / %v", task.ID, task.ContextID)
	}
	if task.Status.State != a2a.TaskStateCompleted {
		t.Fatalf("state = %s, want completed", task.Status.State)
	}
	if task.Status.Message == nil || task.Status.Message.TextContent() != "3 plus 5 is 8." {
		t.Fatalf("status message = %+v", task.Status.Message)
	}
	if task.Artifacts != nil {
		t.Fatalf("expected nil artifacts, got %d", len(task.Artifacts))
	}
}

func TestTaskGetHidesForeignTask(t *testing.T) {
	store := openCoreTestStore(t)
	rec := seedTask(t, store, "alice", a2a.TaskStateCompleted, "done")
	h := New(store, testAgents(), &fakeExecutor{}, stream.NewBroadcaster(), testLogger())

	_, err := h.TaskGet(scopedContext("bob"), a2a.TaskQueryParams{ID: rec.ID.String()})
	if err == nil {
		t.Fatal("expected not found for foreign task")
	}
	if got := rpcError(err); got.Code != a2a.CodeTaskNotFound {
		t.Fatalf("error code = %d, want %d", got.Code, a2a.CodeTaskNotFound)
	}
}

func TestTaskCancelLeavesRowUntouched(t *testing.T) {
	store := openCoreTestStore(t)
	rec := seedTask(t, store, "alice", a2a.TaskStateWorking, "executing")
	h := New(store, testAgents(), &fakeExecutor{}, stream.NewBroadcaster(), testLogger())

	task, err := h.TaskCancel(scopedContext("alice"), a2a.TaskCancelParams{ID: rec.ID.String()})
	if err != nil {
		t.Fatalf("TaskCancel: %v", err)
	}
	if task.Status.State != a2a.TaskStateCanceled {
		t.Fatalf("state = %s, want canceled", task.Status.State)
	}
	if task.ContextID != rec.ContextID {
		t.Fatalf("context id = %s, want %s", task.ContextID, rec.ContextID)
	}

	after, err := store.GetTaskByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if after.State != a2a.TaskStateWorking {
		t.Fatalf("row state = %s, want working (cancel does not abort the strategy)", after.State)
	}
}

func TestMessageStreamDeliversEventsInOrder(t *testing.T) {
	store := openCoreTestStore(t)
	events := stream.NewBroadcaster()
	done := a2a.NewTaskBuilder(ids.NewTaskID(), ids.NewContextID()).WithResponseText("Hello world").Build()
	exec := &fakeExecutor{
		task: done,
		run: func(ctx context.Context, req a2a.ValidatedRequest) {
			scope := shared.ScopeFrom(ctx)
			events.Publish(scope.UserID, stream.Event{Type: stream.EventTextDelta, TaskID: req.TaskID, Text: "Hello"})
			events.Publish(scope.UserID, stream.Event{Type: stream.EventTextDelta, TaskID: req.TaskID, Text: " world"})
			events.Publish(scope.UserID, stream.Event{Type: stream.EventTaskCompleted, TaskID: req.TaskID, Task: &done})
		},
	}
	h := New(store, testAgents(), exec, events, testLogger())

	sub, err := h.MessageStream(scopedContext("alice"), a2a.MessageSendParams{Message: textMessage("say hello")})
	if err != nil {
		t.Fatalf("MessageStream: %v", err)
	}
	defer events.Unsubscribe(sub)

	var got []stream.Event
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-sub.Ch():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if got[0].Text != "Hello" || got[1].Text != " world" {
		t.Fatalf("deltas out of order: %q, %q", got[0].Text, got[1].Text)
	}
	if got[2].Type != stream.EventTaskCompleted {
		t.Fatalf("terminal event = %s, want task_completed", got[2].Type)
	}
}

func TestHandleDispatch(t *testing.T) {
	store := openCoreTestStore(t)
	taskID := ids.NewTaskID()
	contextID := ids.NewContextID()
	exec := &fakeExecutor{task: a2a.NewTaskBuilder(taskID, contextID).WithResponseText("4").Build()}
	h := New(store, testAgents(), exec, stream.NewBroadcaster(), testLogger())
	ctx := scopedContext("alice")

	params, _ := json.Marshal(a2a.MessageSendParams{Message: textMessage("What is 2+2?")})
	resp := h.Handle(ctx, a2a.Request{JSONRPC: "2.0", Method: a2a.MethodMessageSend, Params: params, ID: json.RawMessage(`1`)})
	if resp.Error != nil {
		t.Fatalf("message/send error: %+v", resp.Error)
	}
	task, ok := resp.Result.(a2a.Task)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if task.ID != taskID {
		t.Fatalf("task id = %s, want %s", task.ID, taskID)
	}

	getParams, _ := json.Marshal(a2a.TaskQueryParams{ID: "task-never-created"})
	resp = h.Handle(ctx, a2a.Request{JSONRPC: "2.0", Method: a2a.MethodTasksGet, Params: getParams})
	if resp.Error == nil || resp.Error.Code != a2a.CodeTaskNotFound {
		t.Fatalf("tasks/get unknown: %+v", resp.Error)
	}

	resp = h.Handle(ctx, a2a.Request{JSONRPC: "2.0", Method: "tasks/levitate"})
	if resp.Error == nil || resp.Error.Code != a2a.CodeMethodNotFound {
		t.Fatalf("unknown method: %+v", resp.Error)
	}

	resp = h.Handle(ctx, a2a.Request{JSONRPC: "2.0", Method: a2a.MethodMessageStream, Params: params})
	if resp.Error == nil || resp.Error.Code != a2a.CodeInvalidParams {
		t.Fatalf("message/stream via Handle: %+v", resp.Error)
	}
}
