package core

import (
	"context"
	"sync"
	"time"

	"zkescrow/core/events"
	"zkescrow/core/types"
)

const feedHistoryLimit = 2048

// FeedEvent is one engine event enriched with its position in the feed.
type FeedEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneFeedEvent(evt FeedEvent) FeedEvent {
	cloned := evt
	if evt.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Feed assigns engine events a monotonically increasing sequence, retains a
// bounded history for cursor-based reads and fans live events out to
// subscribers. It implements events.Emitter so engines plug into it directly.
type Feed struct {
	mu      sync.Mutex
	seq     uint64
	history []FeedEvent
	subs    map[uint64]chan FeedEvent
	nextID  uint64
	nowFn   func() int64
}

// NewFeed returns an empty event feed.
func NewFeed() *Feed {
	return &Feed{
		subs:  make(map[uint64]chan FeedEvent),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the timestamp source. Primarily intended for tests.
func (f *Feed) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	f.mu.Lock()
	f.nowFn = now
	f.mu.Unlock()
}

// Emit implements events.Emitter.
func (f *Feed) Emit(evt events.Event) {
	if f == nil || evt == nil {
		return
	}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := provider.Event(); payload != nil {
			f.publish(payload.Type, payload.Attributes)
		}
		return
	}
	f.publish(evt.EventType(), nil)
}

func (f *Feed) publish(eventType string, attrs map[string]string) {
	entry := FeedEvent{Type: eventType}
	if attrs != nil {
		entry.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			entry.Attributes[k] = v
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	entry.Sequence = f.seq
	entry.Timestamp = f.nowFn()
	f.history = append(f.history, entry)
	if len(f.history) > feedHistoryLimit {
		excess := len(f.history) - feedHistoryLimit
		trimmed := make([]FeedEvent, feedHistoryLimit)
		copy(trimmed, f.history[excess:])
		f.history = trimmed
	}

	// Sends stay under f.mu: cancel closes subscriber channels under the same
	// lock, so a send can never race the close. The sends are non-blocking, so
	// holding the lock across them never stalls on a slow subscriber.
	for _, ch := range f.subs {
		select {
		case ch <- cloneFeedEvent(entry):
		default:
		}
	}
}

// EventsSince returns up to limit events with a sequence strictly greater
// than the cursor. A non-positive limit returns the full retained backlog.
func (f *Feed) EventsSince(cursor uint64, limit int) []FeedEvent {
	f.mu.Lock()
	history := make([]FeedEvent, len(f.history))
	copy(history, f.history)
	f.mu.Unlock()

	out := make([]FeedEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence <= cursor {
			continue
		}
		out = append(out, cloneFeedEvent(entry))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Sequence returns the sequence of the most recently published event.
func (f *Feed) Sequence() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// Subscribe registers a live subscriber starting after the supplied cursor.
// The returned backlog holds the retained events past the cursor; the cancel
// function detaches the subscriber and closes its channel. Slow subscribers
// drop events rather than blocking the engines.
func (f *Feed) Subscribe(ctx context.Context, cursor uint64) (<-chan FeedEvent, func(), []FeedEvent) {
	updates := make(chan FeedEvent, 32)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = updates
	history := make([]FeedEvent, len(f.history))
	copy(history, f.history)
	f.mu.Unlock()

	backlog := make([]FeedEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > cursor {
			backlog = append(backlog, cloneFeedEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			sub, ok := f.subs[id]
			if ok {
				delete(f.subs, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}
