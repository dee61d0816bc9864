// Package stream carries live execution events from the strategy to
// attached subscribers and finalizes streamed AI request rows.
package stream

import (
	"log/slog"
	"sync"

	"github.com/loomhq/loom/internal/a2a"
	"github.com/loomhq/loom/internal/ids"
	"github.com/loomhq/loom/internal/persistence"
)

// Subscriber channels are bounded and publish drops on a full buffer
// rather than blocking the executor. A subscriber that falls more than
// defaultBufferSize events behind loses events, terminal ones included,
// and must re-read task state from the store to catch up.
const defaultBufferSize = 256

// EventType discriminates stream events.
type EventType string

const (
	EventExecutionStepUpdate EventType = "execution_step_update"
	EventTextDelta           EventType = "text_delta"
	EventToolCallStarted     EventType = "tool_call_started"
	EventToolCallCompleted   EventType = "tool_call_completed"
	EventArtifactCreated     EventType = "artifact_created"
	EventSynthesized         EventType = "synthesized"
	EventTaskCompleted       EventType = "task_completed"
	EventError               EventType = "error"
)

// Event is one element of a task's live stream. Exactly the fields for
// its type are set.
type Event struct {
	Type   EventType
	TaskID ids.TaskID

	Step     *persistence.ExecutionStepRecord // EventExecutionStepUpdate
	Text     string                           // EventTextDelta, EventSynthesized, EventError
	ToolName string                           // tool call events
	ToolCall string                           // tool call id
	Artifact *a2a.Artifact                    // EventArtifactCreated
	Task     *a2a.Task                        // EventTaskCompleted
}

// Subscription is one connection's view of a user's event stream. The
// guard pattern: hold it for the connection's lifetime, close on drop.
type Subscription struct {
	id     int
	userID ids.UserID
	ch     chan Event
}

func (s *Subscription) Ch() <-chan Event { return s.ch }

// Broadcaster fans events out to per-user subscribers. The producer is
// the single running strategy; subscriber loss never blocks it.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[ids.UserID]map[int]*Subscription
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[ids.UserID]map[int]*Subscription)}
}

// Subscribe registers a connection for a user's events. The channel is
// buffered; a consumer that stops draining misses events rather than
// stalling the producer.
func (b *Broadcaster) Subscribe(userID ids.UserID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		userID: userID,
		ch:     make(chan Event, defaultBufferSize),
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]*Subscription)
	}
	b.subs[userID][sub.id] = sub
	return sub
}

// Unsubscribe removes a connection and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := conns[sub.id]; ok {
		delete(conns, sub.id)
		close(sub.ch)
	}
	if len(conns) == 0 {
		delete(b.subs, sub.userID)
	}
}

// Publish delivers an event to every subscriber of a user. Non-blocking;
// a full buffer drops the event for that subscriber only.
func (b *Broadcaster) Publish(userID ids.UserID, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[userID] {
		select {
		case sub.ch <- event:
		default:
			slog.Debug("stream subscriber buffer full, dropping event",
				"user_id", userID, "type", event.Type)
		}
	}
}

// SubscriberCount reports active connections for a user.
func (b *Broadcaster) SubscriberCount(userID ids.UserID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
