package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
	"github.com/loomhq/loom/internal/provider"
)

// StorageWriter adapts a provider text stream into a persisted
// AiRequest row. Deltas accumulate as they arrive; the terminal write
// happens exactly once no matter how the stream ends.
type StorageWriter struct {
	store     *persistence.Store
	requestID ids.AiRequestID
	pricing   provider.Pricing
	started   time.Time

	mu        sync.Mutex
	text      strings.Builder
	finalized bool
}

func NewStorageWriter(store *persistence.Store, requestID ids.AiRequestID, pricing provider.Pricing) *StorageWriter {
	return &StorageWriter{
		store:     store,
		requestID: requestID,
		pricing:   pricing,
		started:   time.Now(),
	}
}

// Write accumulates one text delta.
func (w *StorageWriter) Write(delta string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text.WriteString(delta)
}

// Text returns the content accumulated so far.
func (w *StorageWriter) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text.String()
}

// Complete finalizes the request as completed, computing cost from the
// stream's usage. Subsequent calls to Complete or Fail are no-ops.
func (w *StorageWriter) Complete(ctx context.Context, usage provider.Usage) error {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return nil
	}
	w.finalized = true
	content := w.text.String()
	w.mu.Unlock()

	return w.store.CompleteAiRequest(ctx, w.requestID, persistence.AiRequestCompletion{
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheReadTokens:     usage.CacheReadTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
		CostMicrodollars:    provider.CostMicrodollars(usage, w.pricing),
		LatencyMs:           time.Since(w.started).Milliseconds(),
		ResponseContent:     content,
	})
}

// Fail finalizes the request as failed. Subsequent calls to Complete or
// Fail are no-ops.
func (w *StorageWriter) Fail(ctx context.Context, streamErr error) error {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return nil
	}
	w.finalized = true
	w.mu.Unlock()

	return w.store.FailAiRequest(ctx, w.requestID, time.Since(w.started).Milliseconds(), streamErr.Error())
}
