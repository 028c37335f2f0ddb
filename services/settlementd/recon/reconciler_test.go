package recon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"zkescrow/services/settlementd/models"
)

func setupReconDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "recon.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSettledEscrow(t *testing.T, db *gorm.DB, opened time.Time) {
	t.Helper()
	escrow := models.EscrowRow{
		ID:          uuid.New(),
		EscrowID:    "esc-1",
		Beneficiary: "zke1qqqqsyqcyq5rqwzqfpg9scrgwpugpzysn7hqmuc",
		AmountWei:   "1000000000000000000",
		Status:      models.StateReleased,
		Conditions:  "secret_knowledge",
		Timeout:     604800,
		OpenedAt:    opened.Unix(),
		LastSeq:     2,
		CreatedAt:   opened,
		UpdatedAt:   opened.Add(time.Hour),
	}
	if err := db.Create(&escrow).Error; err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	release := models.ReleaseRow{
		ID:         uuid.New(),
		EscrowID:   "esc-1",
		ReleaseRef: "rel-1",
		Sequence:   2,
		ObservedAt: opened.Add(time.Hour),
		CreatedAt:  opened.Add(time.Hour),
	}
	if err := db.Create(&release).Error; err != nil {
		t.Fatalf("create release: %v", err)
	}
}

func TestReconcilerCleanRunWritesReports(t *testing.T) {
	db := setupReconDB(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	seedSettledEscrow(t, db, now.Add(-3*time.Hour))

	outputDir := filepath.Join(t.TempDir(), "recon")
	reconciler, err := NewReconciler(Config{
		DB:        db,
		TZ:        time.UTC,
		OutputDir: outputDir,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	res, err := reconciler.Run(context.Background(), RunOptions{Start: now.Add(-24 * time.Hour), End: now})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", res.Anomalies)
	}
	if len(res.Files) != 1 {
		t.Fatalf("expected one report file pair, got %d", len(res.Files))
	}
	if _, err := os.Stat(res.Files[0].CSVPath); err != nil {
		t.Fatalf("csv not written: %v", err)
	}
	if _, err := os.Stat(res.Files[0].ParquetPath); err != nil {
		t.Fatalf("parquet not written: %v", err)
	}
	if res.Rows[0].SettleLatency != time.Hour {
		t.Fatalf("expected 1h settle latency, got %s", res.Rows[0].SettleLatency)
	}
}

func TestReconcilerDetectsMissingSettlement(t *testing.T) {
	db := setupReconDB(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	opened := now.Add(-2 * time.Hour)
	escrow := models.EscrowRow{
		ID:        uuid.New(),
		EscrowID:  "esc-missing",
		AmountWei: "5",
		Status:    models.StateReleased,
		OpenedAt:  opened.Unix(),
		CreatedAt: opened,
		UpdatedAt: opened,
	}
	if err := db.Create(&escrow).Error; err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	var alerts []Anomaly
	reconciler, err := NewReconciler(Config{
		DB:     db,
		TZ:     time.UTC,
		DryRun: true,
		Now:    func() time.Time { return now },
		Alert: func(_ context.Context, a Anomaly) error {
			alerts = append(alerts, a)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	res, err := reconciler.Run(context.Background(), RunOptions{Start: now.Add(-24 * time.Hour), End: now})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files in dry-run, got %d", len(res.Files))
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Type == AnomalyMissingSettlement && a.EscrowID == "esc-missing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing settlement anomaly, got %+v", res.Anomalies)
	}
	if len(alerts) == 0 {
		t.Fatalf("expected alerts to be emitted")
	}
}

func TestReconcilerDetectsTimeoutOverdue(t *testing.T) {
	db := setupReconDB(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	opened := now.Add(-2 * time.Hour)
	escrow := models.EscrowRow{
		ID:        uuid.New(),
		EscrowID:  "esc-stale",
		AmountWei: "7",
		Status:    models.StateActive,
		Timeout:   3600,
		OpenedAt:  opened.Unix(),
		CreatedAt: opened,
		UpdatedAt: opened,
	}
	if err := db.Create(&escrow).Error; err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	reconciler, err := NewReconciler(Config{
		DB:     db,
		TZ:     time.UTC,
		DryRun: true,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	res, err := reconciler.Run(context.Background(), RunOptions{Start: now.Add(-24 * time.Hour), End: now})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Type == AnomalyTimeoutOverdue && a.EscrowID == "esc-stale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected timeout overdue anomaly, got %+v", res.Anomalies)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RunHour: 2, RunMinute: 30})
	after := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	next := s.nextRun(after)
	want := time.Date(2026, 8, 26, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next run %s, got %s", want, next)
	}

	before := time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC)
	next = s.nextRun(before)
	want = time.Date(2026, 8, 25, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected same-day run %s, got %s", want, next)
	}
}
