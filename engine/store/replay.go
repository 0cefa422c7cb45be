package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// processedMessageRow marks one (source domain, nonce) pair as handled
type processedMessageRow struct {
	SourceDomain uint32 `gorm:"primaryKey;autoIncrement:false"`
	Nonce        uint64 `gorm:"primaryKey;autoIncrement:false"`
	ProcessedAt  time.Time
}

func (processedMessageRow) TableName() string { return "processed_messages" }

// GormReplayGuard claims inbound messages in the processed_messages table, so every executor
// sharing the database sees the same claims
type GormReplayGuard struct {
	db *gorm.DB
}

// NewGormReplayGuard wraps an open connection
func NewGormReplayGuard(db *gorm.DB) *GormReplayGuard {
	return &GormReplayGuard{db: db}
}

// Claim returns true when this call is the first to mark the pair processed
func (g *GormReplayGuard) Claim(ctx context.Context, domain uint32, nonce uint64) (bool, error) {
	row := processedMessageRow{SourceDomain: domain, Nonce: nonce, ProcessedAt: time.Now()}
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("claim message %d/%d: %w", domain, nonce, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release removes a claim so a message that failed for a transient reason can be delivered again
func (g *GormReplayGuard) Release(ctx context.Context, domain uint32, nonce uint64) error {
	return g.db.WithContext(ctx).
		Where("source_domain = ? AND nonce = ?", domain, nonce).
		Delete(&processedMessageRow{}).Error
}
