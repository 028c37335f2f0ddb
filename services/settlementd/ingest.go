package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"zkescrow/services/settlementd/models"
)

const ingestCursorName = "feed"

// Ingestor mirrors the engine event feed into the settlement database. Every
// event is applied exactly once: release, refund and action rows carry the
// feed sequence as a unique key, and replays are skipped.
type Ingestor struct {
	db           *gorm.DB
	client       FeedClient
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	nowFn        func() time.Time
}

func NewIngestor(db *gorm.DB, client FeedClient, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		db:           db,
		client:       client,
		logger:       logger,
		pollInterval: 5 * time.Second,
		batchSize:    200,
		nowFn:        time.Now,
	}
}

// Run polls the feed until the context is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	interval := in.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := in.Poll(ctx); err != nil {
				in.logger.Warn("Feed poll failed", slog.Any("error", err))
			}
		}
	}
}

// Poll pulls one batch of events after the persisted cursor and applies them.
func (in *Ingestor) Poll(ctx context.Context) error {
	cursor, err := in.loadCursor(ctx)
	if err != nil {
		return err
	}
	page, err := in.client.EventsSince(ctx, cursor, in.batchSize)
	if err != nil {
		return err
	}
	if page == nil || len(page.Events) == 0 {
		return nil
	}
	last := cursor
	for _, evt := range page.Events {
		if evt.Sequence <= last {
			continue
		}
		if err := in.apply(ctx, evt); err != nil {
			in.logger.Warn("Failed to apply event",
				slog.Uint64("sequence", evt.Sequence),
				slog.String("type", evt.Type),
				slog.Any("error", err))
			return err
		}
		last = evt.Sequence
	}
	return in.saveCursor(ctx, last)
}

func (in *Ingestor) loadCursor(ctx context.Context) (uint64, error) {
	var cursor models.IngestCursor
	err := in.db.WithContext(ctx).First(&cursor, "name = ?", ingestCursorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Sequence, nil
}

func (in *Ingestor) saveCursor(ctx context.Context, seq uint64) error {
	cursor := models.IngestCursor{Name: ingestCursorName, Sequence: seq, UpdatedAt: in.nowFn().UTC()}
	var existing models.IngestCursor
	err := in.db.WithContext(ctx).First(&existing, "name = ?", ingestCursorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return in.db.WithContext(ctx).Create(&cursor).Error
	}
	if err != nil {
		return err
	}
	return in.db.WithContext(ctx).Model(&models.IngestCursor{}).
		Where("name = ?", ingestCursorName).
		Updates(map[string]interface{}{"sequence": seq, "updated_at": cursor.UpdatedAt}).Error
}

func (in *Ingestor) apply(ctx context.Context, evt FeedEvent) error {
	switch evt.Type {
	case "escrow.created":
		return in.upsertEscrow(ctx, evt)
	case "escrow.released":
		if err := in.upsertEscrow(ctx, evt); err != nil {
			return err
		}
		return in.insertRelease(ctx, evt)
	case "escrow.refunded":
		if err := in.upsertEscrow(ctx, evt); err != nil {
			return err
		}
		return in.insertRefund(ctx, evt)
	case "escrow.action_dispatched":
		return in.insertAction(ctx, evt)
	default:
		// Unknown event types advance the cursor without a row.
		return nil
	}
}

func (in *Ingestor) upsertEscrow(ctx context.Context, evt FeedEvent) error {
	attrs := evt.Attributes
	escrowID := attrs["id"]
	if escrowID == "" {
		return nil
	}
	timeout, _ := strconv.ParseInt(attrs["timeout"], 10, 64)
	openedAt, _ := strconv.ParseInt(attrs["createdAt"], 10, 64)

	var row models.EscrowRow
	err := in.db.WithContext(ctx).First(&row, "escrow_id = ?", escrowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.EscrowRow{
			ID:          uuid.New(),
			EscrowID:    escrowID,
			Beneficiary: attrs["beneficiary"],
			AmountWei:   attrs["amount"],
			Status:      attrs["status"],
			Conditions:  attrs["conditions"],
			Fingerprint: attrs["fingerprint"],
			LockTx:      attrs["lockTx"],
			Timeout:     timeout,
			OpenedAt:    openedAt,
			LastSeq:     evt.Sequence,
		}
		return in.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}
	if evt.Sequence <= row.LastSeq {
		return nil
	}
	updates := map[string]interface{}{
		"status":   attrs["status"],
		"last_seq": evt.Sequence,
	}
	if attrs["lockTx"] != "" {
		updates["lock_tx"] = attrs["lockTx"]
	}
	return in.db.WithContext(ctx).Model(&models.EscrowRow{}).
		Where("escrow_id = ?", escrowID).Updates(updates).Error
}

func (in *Ingestor) insertRelease(ctx context.Context, evt FeedEvent) error {
	if exists, err := in.sequenceSeen(ctx, &models.ReleaseRow{}, evt.Sequence); err != nil || exists {
		return err
	}
	row := models.ReleaseRow{
		ID:         uuid.New(),
		EscrowID:   evt.Attributes["id"],
		ReleaseRef: evt.Attributes["releaseRef"],
		Sequence:   evt.Sequence,
		ObservedAt: in.eventTime(evt),
	}
	return in.db.WithContext(ctx).Create(&row).Error
}

func (in *Ingestor) insertRefund(ctx context.Context, evt FeedEvent) error {
	if exists, err := in.sequenceSeen(ctx, &models.RefundRow{}, evt.Sequence); err != nil || exists {
		return err
	}
	row := models.RefundRow{
		ID:         uuid.New(),
		EscrowID:   evt.Attributes["id"],
		RefundRef:  evt.Attributes["refundRef"],
		Sequence:   evt.Sequence,
		ObservedAt: in.eventTime(evt),
	}
	return in.db.WithContext(ctx).Create(&row).Error
}

func (in *Ingestor) insertAction(ctx context.Context, evt FeedEvent) error {
	if exists, err := in.sequenceSeen(ctx, &models.ActionRow{}, evt.Sequence); err != nil || exists {
		return err
	}
	row := models.ActionRow{
		ID:               uuid.New(),
		EscrowID:         evt.Attributes["id"],
		Ref:              evt.Attributes["ref"],
		Status:           evt.Attributes["status"],
		TxID:             evt.Attributes["txId"],
		MintedResourceID: evt.Attributes["mintedResourceId"],
		Error:            evt.Attributes["error"],
		Sequence:         evt.Sequence,
		ObservedAt:       in.eventTime(evt),
	}
	return in.db.WithContext(ctx).Create(&row).Error
}

func (in *Ingestor) sequenceSeen(ctx context.Context, model interface{}, seq uint64) (bool, error) {
	var count int64
	err := in.db.WithContext(ctx).Model(model).Where("sequence = ?", seq).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (in *Ingestor) eventTime(evt FeedEvent) time.Time {
	if evt.Timestamp > 0 {
		return time.Unix(evt.Timestamp, 0).UTC()
	}
	return in.nowFn().UTC()
}
