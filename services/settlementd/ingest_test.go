package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"zkescrow/services/settlementd/models"
)

type stubFeed struct {
	pages []EventsPage
	calls int
}

func (s *stubFeed) EventsSince(_ context.Context, cursor uint64, _ int) (*EventsPage, error) {
	if s.calls >= len(s.pages) {
		return &EventsPage{NextCursor: cursor}, nil
	}
	page := s.pages[s.calls]
	s.calls++
	return &page, nil
}

func setupIngestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "settlement.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createdEvent(seq uint64, escrowID string) FeedEvent {
	return FeedEvent{
		Sequence: seq,
		Type:     "escrow.created",
		Attributes: map[string]string{
			"id":          escrowID,
			"beneficiary": "zke1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn7hqmuc",
			"amount":      "1500000000000000000",
			"status":      "pending",
			"conditions":  "secret_knowledge",
			"timeout":     "604800",
			"createdAt":   "1700000000",
		},
		Timestamp: 1700000000,
	}
}

func releasedEvent(seq uint64, escrowID, ref string) FeedEvent {
	return FeedEvent{
		Sequence: seq,
		Type:     "escrow.released",
		Attributes: map[string]string{
			"id":         escrowID,
			"status":     "released",
			"releaseRef": ref,
		},
		Timestamp: 1700003600,
	}
}

func TestIngestMirrorsLifecycle(t *testing.T) {
	db := setupIngestDB(t)
	feed := &stubFeed{pages: []EventsPage{{
		Events: []FeedEvent{
			createdEvent(1, "esc-1"),
			releasedEvent(2, "esc-1", "rel-1"),
		},
		NextCursor: 2,
	}}}
	ingestor := NewIngestor(db, feed, nil)

	if err := ingestor.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	var escrow models.EscrowRow
	if err := db.First(&escrow, "escrow_id = ?", "esc-1").Error; err != nil {
		t.Fatalf("load escrow: %v", err)
	}
	if escrow.Status != models.StateReleased {
		t.Fatalf("expected released status, got %q", escrow.Status)
	}
	if escrow.AmountWei != "1500000000000000000" {
		t.Fatalf("unexpected amount %q", escrow.AmountWei)
	}

	var release models.ReleaseRow
	if err := db.First(&release, "escrow_id = ?", "esc-1").Error; err != nil {
		t.Fatalf("load release: %v", err)
	}
	if release.ReleaseRef != "rel-1" || release.Sequence != 2 {
		t.Fatalf("unexpected release row: %+v", release)
	}

	var cursor models.IngestCursor
	if err := db.First(&cursor, "name = ?", ingestCursorName).Error; err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.Sequence != 2 {
		t.Fatalf("expected cursor 2, got %d", cursor.Sequence)
	}
}

func TestIngestSkipsReplayedEvents(t *testing.T) {
	db := setupIngestDB(t)
	events := []FeedEvent{
		createdEvent(1, "esc-1"),
		releasedEvent(2, "esc-1", "rel-1"),
	}
	// The same page twice simulates a node replay after a cursor reset.
	feed := &stubFeed{pages: []EventsPage{
		{Events: events, NextCursor: 2},
		{Events: events, NextCursor: 2},
	}}
	ingestor := NewIngestor(db, feed, nil)

	if err := ingestor.Poll(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	// Reset the cursor so the second poll re-reads from zero.
	if err := db.Model(&models.IngestCursor{}).Where("name = ?", ingestCursorName).
		Update("sequence", 0).Error; err != nil {
		t.Fatalf("reset cursor: %v", err)
	}
	if err := ingestor.Poll(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	var escrowCount, releaseCount int64
	if err := db.Model(&models.EscrowRow{}).Count(&escrowCount).Error; err != nil {
		t.Fatalf("count escrows: %v", err)
	}
	if err := db.Model(&models.ReleaseRow{}).Count(&releaseCount).Error; err != nil {
		t.Fatalf("count releases: %v", err)
	}
	if escrowCount != 1 {
		t.Fatalf("expected 1 escrow row, got %d", escrowCount)
	}
	if releaseCount != 1 {
		t.Fatalf("expected 1 release row, got %d", releaseCount)
	}
}

func TestIngestIgnoresUnknownEventTypes(t *testing.T) {
	db := setupIngestDB(t)
	feed := &stubFeed{pages: []EventsPage{{
		Events: []FeedEvent{
			{Sequence: 1, Type: "ledger.locked", Attributes: map[string]string{"id": "esc-1"}},
			createdEvent(2, "esc-2"),
		},
		NextCursor: 2,
	}}}
	ingestor := NewIngestor(db, feed, nil)

	if err := ingestor.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	var cursor models.IngestCursor
	if err := db.First(&cursor, "name = ?", ingestCursorName).Error; err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.Sequence != 2 {
		t.Fatalf("expected cursor to advance past unknown event, got %d", cursor.Sequence)
	}
}
