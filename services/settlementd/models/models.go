package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Escrow lifecycle states mirrored from the engine feed.
const (
	StatePending  = "pending"
	StateActive   = "active"
	StateReleased = "released"
	StateRefunded = "refunded"
)

// EscrowRow mirrors the latest observed snapshot of an escrow.
type EscrowRow struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	EscrowID    string    `gorm:"uniqueIndex;size:128"`
	Beneficiary string    `gorm:"index;size:128"`
	AmountWei   string    `gorm:"size:80"`
	Status      string    `gorm:"size:16;index"`
	Conditions  string    `gorm:"size:255"`
	Fingerprint string    `gorm:"size:64"`
	LockTx      string    `gorm:"size:128"`
	Timeout     int64
	OpenedAt    int64
	LastSeq     uint64 `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReleaseRow records an observed release settlement.
type ReleaseRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	EscrowID   string    `gorm:"index;size:128"`
	ReleaseRef string    `gorm:"size:128"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	ObservedAt time.Time
	CreatedAt  time.Time
}

// RefundRow records an observed timeout refund.
type RefundRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	EscrowID   string    `gorm:"index;size:128"`
	RefundRef  string    `gorm:"size:128"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	ObservedAt time.Time
	CreatedAt  time.Time
}

// ActionRow records the terminal outcome of a post-release action dispatch.
type ActionRow struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	EscrowID         string    `gorm:"index;size:128"`
	Ref              string    `gorm:"size:128"`
	Status           string    `gorm:"size:32;index"`
	TxID             string    `gorm:"size:128"`
	MintedResourceID string    `gorm:"size:128"`
	Error            string    `gorm:"type:text"`
	Sequence         uint64    `gorm:"uniqueIndex"`
	ObservedAt       time.Time
	CreatedAt        time.Time
}

// IngestCursor persists the last feed sequence applied by the ingest loop.
type IngestCursor struct {
	Name      string `gorm:"primaryKey;size:32"`
	Sequence  uint64
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EscrowRow{},
		&ReleaseRow{},
		&RefundRow{},
		&ActionRow{},
		&IngestCursor{},
	)
}
