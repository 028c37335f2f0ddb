package main

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// EventWatcher periodically pulls engine events from the node and mirrors
// them locally while enqueueing webhook notifications.
type EventWatcher struct {
	node         NodeClient
	store        *SQLiteStore
	queue        *WebhookQueue
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	nowFn        func() time.Time
}

// NewEventWatcher constructs a watcher with sane defaults.
func NewEventWatcher(node NodeClient, store *SQLiteStore, queue *WebhookQueue, logger *slog.Logger) *EventWatcher {
	if queue == nil {
		queue = NewWebhookQueue()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWatcher{
		node:         node,
		store:        store,
		queue:        queue,
		logger:       logger,
		pollInterval: 5 * time.Second,
		batchSize:    100,
		nowFn:        time.Now,
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *EventWatcher) Run(ctx context.Context) {
	if w.node == nil || w.store == nil || w.queue == nil {
		return
	}
	interval := w.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	cursor, _ := w.store.LastEventSequence(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cursor = w.poll(ctx, cursor)
		}
	}
}

func (w *EventWatcher) poll(ctx context.Context, cursor int64) int64 {
	batch := w.batchSize
	if batch <= 0 {
		batch = 100
	}
	page, err := w.node.FetchEvents(ctx, uint64(cursor), batch)
	if err != nil {
		w.logger.Warn("Event poll failed", slog.Any("error", err))
		return cursor
	}
	if page == nil || len(page.Events) == 0 {
		return cursor
	}
	last := cursor
	for _, evt := range page.Events {
		seq := int64(evt.Sequence)
		if seq <= last {
			continue
		}
		w.handleEvent(ctx, evt)
		last = seq
	}
	if err := w.store.UpdateEventSequence(ctx, last); err != nil {
		w.logger.Warn("Failed to persist event cursor", slog.Any("error", err))
	}
	return last
}

func (w *EventWatcher) handleEvent(ctx context.Context, evt NodeEvent) {
	createdAt := time.Unix(evt.Timestamp, 0).UTC()
	if evt.Timestamp == 0 {
		createdAt = w.nowFn().UTC()
	}
	payload := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		payload[k] = v
	}
	escrowID := strings.TrimSpace(payload["id"])
	if escrowID == "" {
		escrowID = strings.TrimSpace(payload["escrowId"])
	}

	stored := StoredEvent{
		Sequence:  int64(evt.Sequence),
		Type:      evt.Type,
		EscrowID:  escrowID,
		Payload:   payload,
		CreatedAt: createdAt,
	}
	if err := w.store.InsertEvent(ctx, stored); err != nil {
		w.logger.Warn("Failed to mirror event", slog.Uint64("sequence", evt.Sequence), slog.Any("error", err))
	}

	w.queue.Enqueue(WebhookEvent{
		Sequence:   int64(evt.Sequence),
		Type:       evt.Type,
		EscrowID:   escrowID,
		Attributes: payload,
		CreatedAt:  createdAt,
	})
}
