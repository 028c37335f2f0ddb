package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"zkescrow/services/settlementd/models"
)

// Anomaly types emitted by the reconciler.
const (
	AnomalyMissingSettlement = "missing_settlement"
	AnomalyDoubleSettlement  = "double_settlement"
	AnomalyActionFailed      = "action_failed"
	AnomalyTimeoutOverdue    = "timeout_overdue"
)

// AlertFunc is invoked for every anomaly detected during reconciliation.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB        *gorm.DB
	TZ        *time.Location
	OutputDir string
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides when executing a reconciliation window.
type RunOptions struct {
	Start  time.Time
	End    time.Time
	DryRun bool
}

// Reconciler materialises daily reports joining escrows, settlements, and
// action outcomes.
type Reconciler struct {
	db        *gorm.DB
	tz        *time.Location
	outputDir string
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a reconciliation failure requiring operator review.
type Anomaly struct {
	Type     string
	EscrowID string
	Details  string
}

// ReportRow summarises settlement status for a single escrow.
type ReportRow struct {
	EscrowID       string
	Beneficiary    string
	AmountWei      string
	Status         string
	Conditions     string
	ReleaseRef     string
	RefundRef      string
	ActionRef      string
	ActionStatus   string
	ActionError    string
	OpenedAt       time.Time
	SettledAt      *time.Time
	SettleLatency  time.Duration
	MissingRef     bool
	DoubleSettled  bool
	ActionFailed   bool
	TimeoutOverdue bool
}

// ReportFile references the CSV and Parquet artefacts generated for a run.
type ReportFile struct {
	CSVPath     string
	ParquetPath string
	Count       int
}

// Result summarises a reconciliation run.
type Result struct {
	Start     time.Time
	End       time.Time
	Rows      []*ReportRow
	Files     []ReportFile
	Anomalies []Anomaly
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: db is required")
	}
	if cfg.TZ == nil {
		cfg.TZ = time.UTC
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("zke-data-local", "recon")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().In(cfg.TZ) }
	}
	return &Reconciler{
		db:        cfg.DB,
		tz:        cfg.TZ,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		logger:    logger,
	}, nil
}

// Run executes reconciliation for the supplied window.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := opts.Start.In(r.tz)
	end := opts.End.In(r.tz)
	if end.Before(start) {
		return nil, fmt.Errorf("recon: end before start")
	}
	dryRun := r.dryRun || opts.DryRun

	var escrows []models.EscrowRow
	if err := r.db.WithContext(ctx).
		Where("(created_at BETWEEN ? AND ?) OR (updated_at BETWEEN ? AND ?)", start, end, start, end).
		Find(&escrows).Error; err != nil {
		return nil, fmt.Errorf("recon: load escrows: %w", err)
	}

	escrowIDs := make([]string, 0, len(escrows))
	for _, row := range escrows {
		escrowIDs = append(escrowIDs, row.EscrowID)
	}

	releaseMap := map[string][]models.ReleaseRow{}
	refundMap := map[string][]models.RefundRow{}
	actionMap := map[string]models.ActionRow{}
	if len(escrowIDs) > 0 {
		var releases []models.ReleaseRow
		if err := r.db.WithContext(ctx).Where("escrow_id IN ?", escrowIDs).Find(&releases).Error; err != nil {
			return nil, fmt.Errorf("recon: load releases: %w", err)
		}
		for _, rel := range releases {
			releaseMap[rel.EscrowID] = append(releaseMap[rel.EscrowID], rel)
		}
		var refunds []models.RefundRow
		if err := r.db.WithContext(ctx).Where("escrow_id IN ?", escrowIDs).Find(&refunds).Error; err != nil {
			return nil, fmt.Errorf("recon: load refunds: %w", err)
		}
		for _, ref := range refunds {
			refundMap[ref.EscrowID] = append(refundMap[ref.EscrowID], ref)
		}
		var actions []models.ActionRow
		if err := r.db.WithContext(ctx).Where("escrow_id IN ?", escrowIDs).Find(&actions).Error; err != nil {
			return nil, fmt.Errorf("recon: load actions: %w", err)
		}
		for _, act := range actions {
			actionMap[act.EscrowID] = act
		}
	}

	rows := make([]*ReportRow, 0, len(escrows))
	anomalies := make([]Anomaly, 0)
	now := r.now()

	for _, escrow := range escrows {
		releases := releaseMap[escrow.EscrowID]
		refunds := refundMap[escrow.EscrowID]
		action, hasAction := actionMap[escrow.EscrowID]

		row := &ReportRow{
			EscrowID:    escrow.EscrowID,
			Beneficiary: escrow.Beneficiary,
			AmountWei:   escrow.AmountWei,
			Status:      escrow.Status,
			Conditions:  escrow.Conditions,
			OpenedAt:    time.Unix(escrow.OpenedAt, 0).In(r.tz),
		}
		if len(releases) > 0 {
			row.ReleaseRef = releases[0].ReleaseRef
			ts := releases[0].ObservedAt.In(r.tz)
			row.SettledAt = &ts
		}
		if len(refunds) > 0 {
			row.RefundRef = refunds[0].RefundRef
			if row.SettledAt == nil {
				ts := refunds[0].ObservedAt.In(r.tz)
				row.SettledAt = &ts
			}
		}
		if hasAction {
			row.ActionRef = action.Ref
			row.ActionStatus = action.Status
			row.ActionError = action.Error
		}
		if row.SettledAt != nil && row.SettledAt.After(row.OpenedAt) {
			row.SettleLatency = row.SettledAt.Sub(row.OpenedAt)
		}

		switch escrow.Status {
		case models.StateReleased:
			if len(releases) == 0 {
				row.MissingRef = true
				anomalies = append(anomalies, r.raise(ctx, Anomaly{
					Type:     AnomalyMissingSettlement,
					EscrowID: escrow.EscrowID,
					Details:  "escrow released without a settlement row",
				}))
			}
		case models.StateRefunded:
			if len(refunds) == 0 {
				row.MissingRef = true
				anomalies = append(anomalies, r.raise(ctx, Anomaly{
					Type:     AnomalyMissingSettlement,
					EscrowID: escrow.EscrowID,
					Details:  "escrow refunded without a settlement row",
				}))
			}
		case models.StatePending, models.StateActive:
			deadline := time.Unix(escrow.OpenedAt+escrow.Timeout, 0).In(r.tz)
			if escrow.Timeout > 0 && deadline.Before(now) {
				row.TimeoutOverdue = true
				anomalies = append(anomalies, r.raise(ctx, Anomaly{
					Type:     AnomalyTimeoutOverdue,
					EscrowID: escrow.EscrowID,
					Details:  fmt.Sprintf("timeout elapsed at %s without settlement", deadline),
				}))
			}
		}

		if len(releases) > 0 && len(refunds) > 0 {
			row.DoubleSettled = true
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:     AnomalyDoubleSettlement,
				EscrowID: escrow.EscrowID,
				Details:  fmt.Sprintf("release %s and refund %s both recorded", row.ReleaseRef, row.RefundRef),
			}))
		}

		if hasAction && strings.EqualFold(action.Status, "failed") {
			row.ActionFailed = true
			anomalies = append(anomalies, r.raise(ctx, Anomaly{
				Type:     AnomalyActionFailed,
				EscrowID: escrow.EscrowID,
				Details:  fmt.Sprintf("action %s failed: %s", action.Ref, action.Error),
			}))
		}

		rows = append(rows, row)
	}

	files := make([]ReportFile, 0, 1)
	if !dryRun && len(rows) > 0 {
		runDir := filepath.Join(r.outputDir, fmt.Sprintf("%s_%s", start.Format("20060102"), end.Format("20060102")))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return nil, fmt.Errorf("recon: ensure output dir: %w", err)
		}
		csvPath := filepath.Join(runDir, "settlements.csv")
		if err := writeCSV(csvPath, rows); err != nil {
			return nil, err
		}
		parquetPath := filepath.Join(runDir, "settlements.parquet")
		if err := writeParquet(parquetPath, rows); err != nil {
			return nil, err
		}
		files = append(files, ReportFile{CSVPath: csvPath, ParquetPath: parquetPath, Count: len(rows)})
		r.logger.Info("Wrote reconciliation report",
			slog.String("csv", csvPath),
			slog.String("parquet", parquetPath),
			slog.Int("rows", len(rows)))
	}

	return &Result{Start: start, End: end, Rows: rows, Files: files, Anomalies: anomalies}, nil
}

func (r *Reconciler) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Warn("Anomaly alert delivery failed", slog.Any("error", err))
		}
	}
	return anomaly
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"escrow_id", "beneficiary", "amount_wei", "status", "conditions", "release_ref", "refund_ref",
		"action_ref", "action_status", "action_error", "opened_at", "settled_at", "settle_latency_minutes",
		"missing_ref", "double_settled", "action_failed", "timeout_overdue",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.EscrowID,
			row.Beneficiary,
			row.AmountWei,
			row.Status,
			row.Conditions,
			row.ReleaseRef,
			row.RefundRef,
			row.ActionRef,
			row.ActionStatus,
			row.ActionError,
			row.OpenedAt.Format(time.RFC3339),
			formatTime(row.SettledAt),
			formatMinutes(row.SettleLatency),
			boolString(row.MissingRef),
			boolString(row.DoubleSettled),
			boolString(row.ActionFailed),
			boolString(row.TimeoutOverdue),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	EscrowID             string  `parquet:"name=escrow_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Beneficiary          string  `parquet:"name=beneficiary, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountWei            string  `parquet:"name=amount_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status               string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Conditions           string  `parquet:"name=conditions, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReleaseRef           string  `parquet:"name=release_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	RefundRef            string  `parquet:"name=refund_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActionRef            string  `parquet:"name=action_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActionStatus         string  `parquet:"name=action_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActionError          string  `parquet:"name=action_error, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenedAt             string  `parquet:"name=opened_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt            string  `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettleLatencyMinutes float64 `parquet:"name=settle_latency_minutes, type=DOUBLE"`
	MissingRef           bool    `parquet:"name=missing_ref, type=BOOLEAN"`
	DoubleSettled        bool    `parquet:"name=double_settled, type=BOOLEAN"`
	ActionFailed         bool    `parquet:"name=action_failed, type=BOOLEAN"`
	TimeoutOverdue       bool    `parquet:"name=timeout_overdue, type=BOOLEAN"`
}

func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			EscrowID:             row.EscrowID,
			Beneficiary:          row.Beneficiary,
			AmountWei:            row.AmountWei,
			Status:               row.Status,
			Conditions:           row.Conditions,
			ReleaseRef:           row.ReleaseRef,
			RefundRef:            row.RefundRef,
			ActionRef:            row.ActionRef,
			ActionStatus:         row.ActionStatus,
			ActionError:          row.ActionError,
			OpenedAt:             row.OpenedAt.Format(time.RFC3339),
			SettledAt:            formatTime(row.SettledAt),
			SettleLatencyMinutes: minutesFloat(row.SettleLatency),
			MissingRef:           row.MissingRef,
			DoubleSettled:        row.DoubleSettled,
			ActionFailed:         row.ActionFailed,
			TimeoutOverdue:       row.TimeoutOverdue,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}

func minutesFloat(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Minutes()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatMinutes(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", d.Minutes())
}
