package stream

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
)

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()
	user := ids.UserID("alice")
	sub := b.Subscribe(user)
	defer b.Unsubscribe(sub)

	tid := ids.NewTaskID()
	b.Publish(user, Event{Type: EventTextDelta, TaskID: tid, Text: "Hello"})
	b.Publish(user, Event{Type: EventTextDelta, TaskID: tid, Text: " world"})
	b.Publish(user, Event{Type: EventTaskCompleted, TaskID: tid})

	want := []Event{
		{Type: EventTextDelta, Text: "Hello"},
		{Type: EventTextDelta, Text: " world"},
		{Type: EventTaskCompleted},
	}
	for i, w := range want {
		ev := <-sub.Ch()
		if ev.Type != w.Type || ev.Text != w.Text {
			t.Fatalf("event %d = %+v, want type %s text %q", i, ev, w.Type, w.Text)
		}
	}
}

func TestBroadcasterIsolatesUsers(t *testing.T) {
	b := NewBroadcaster()
	alice := b.Subscribe(ids.UserID("alice"))
	bob := b.Subscribe(ids.UserID("bob"))
	defer b.Unsubscribe(alice)
	defer b.Unsubscribe(bob)

	b.Publish(ids.UserID("alice"), Event{Type: EventTextDelta, Text: "private"})

	if got := <-alice.Ch(); got.Text != "private" {
		t.Fatalf("alice event = %+v", got)
	}
	select {
	case ev := <-bob.Ch():
		t.Fatalf("bob received %+v", ev)
	default:
	}
}

func TestBroadcasterDropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster()
	user := ids.UserID("alice")
	sub := b.Subscribe(user)
	defer b.Unsubscribe(sub)

	// The producer never blocks, even against a stalled consumer.
	for i := 0; i < defaultBufferSize*2; i++ {
		b.Publish(user, Event{Type: EventTextDelta, Text: "x"})
	}
	if n := len(sub.ch); n != defaultBufferSize {
		t.Fatalf("buffered = %d, want %d", n, defaultBufferSize)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	user := ids.UserID("alice")
	sub := b.Subscribe(user)
	b.Unsubscribe(sub)
	// Double unsubscribe is safe.
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if n := b.SubscriberCount(user); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func openStreamTestStore(t *testing.T) (*persistence.Store, ids.AiRequestID) {
	t.Helper()
	s, err := persistence.Open(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rid := ids.NewAiRequestID()
	err = s.StartAiRequest(context.Background(), persistence.AiRequestRecord{
		ID: rid, Provider: "anthropic", Model: "claude-3-5-sonnet", IsStreaming: true,
	})
	if err != nil {
		t.Fatalf("StartAiRequest: %v", err)
	}
	return s, rid
}

func TestStorageWriterFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	s, rid := openStreamTestStore(t)

	w := NewStorageWriter(s, rid, provider.Pricing{InputPer1k: 0.003, OutputPer1k: 0.015})
	w.Write("Hello")
	w.Write(" world")

	usage := provider.Usage{InputTokens: 10, OutputTokens: 2}
	if err := w.Complete(ctx, usage); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// A late error after successful completion must not overwrite the
	// terminal row.
	if err := w.Fail(ctx, errors.New("stream hiccup")); err != nil {
		t.Fatalf("Fail after Complete: %v", err)
	}
	if err := w.Complete(ctx, usage); err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	rec, err := s.GetAiRequest(ctx, rid)
	if err != nil {
		t.Fatalf("GetAiRequest: %v", err)
	}
	if rec.Status != persistence.AiRequestCompleted {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ResponseContent != "Hello world" {
		t.Fatalf("content = %q, want %q", rec.ResponseContent, "Hello world")
	}
	if !rec.IsStreaming {
		t.Fatal("is_streaming not set")
	}
	wantCost := provider.CostMicrodollars(usage, provider.Pricing{InputPer1k: 0.003, OutputPer1k: 0.015})
	if rec.CostMicrodollars != wantCost {
		t.Fatalf("cost = %d, want %d", rec.CostMicrodollars, wantCost)
	}
	if rec.LatencyMs == nil {
		t.Fatal("latency not recorded")
	}
}

func TestStorageWriterFail(t *testing.T) {
	ctx := context.Background()
	s, rid := openStreamTestStore(t)

	w := NewStorageWriter(s, rid, provider.DefaultPricing)
	w.Write("partial")
	if err := w.Fail(ctx, errors.New("connection reset")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	rec, err := s.GetAiRequest(ctx, rid)
	if err != nil {
		t.Fatalf("GetAiRequest: %v", err)
	}
	if rec.Status != persistence.AiRequestFailed {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ErrorMessage != "connection reset" {
		t.Fatalf("error = %q", rec.ErrorMessage)
	}
}
