package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketlens/internal/logger"
	"marketlens/internal/types"
)

// ErrMiss is returned when no live entry exists for a key. An expired row is
// a miss even if it is still physically present.
var ErrMiss = errors.New("cache miss")

// Entry is one cached dataset, keyed by (symbol, data_type) with upsert
// semantics. Payload is opaque JSON; the quality score always travels with
// the payload it describes.
type Entry struct {
	ID           uint      `gorm:"primaryKey"`
	Symbol       string    `gorm:"uniqueIndex:idx_cache_key;size:32"`
	DataType     string    `gorm:"uniqueIndex:idx_cache_key;size:32"`
	Payload      string    `gorm:"type:text"`
	QualityScore int       `gorm:"not null"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index"`
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (Entry) TableName() string { return "cache_entries" }

// Cache is a TTL-keyed durable store of per-phase datasets.
type Cache struct {
	db *gorm.DB
}

// New creates a cache over an opened store handle.
func New(db *gorm.DB) *Cache {
	return &Cache{db: db}
}

// Migrate creates or updates the cache table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Set upserts a payload under (symbol, dataType). Freshness wins over
// quality: a newer write always replaces an older one regardless of the
// previous entry's score.
func (c *Cache) Set(ctx context.Context, symbol string, dataType types.DataType, payload any, ttl time.Duration, qualityScore int) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	now := time.Now()
	entry := Entry{
		Symbol:       symbol,
		DataType:     string(dataType),
		Payload:      string(raw),
		QualityScore: qualityScore,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "data_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "quality_score", "created_at", "expires_at"}),
	}).Create(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return &entry, nil
}

// Get returns the live entry for (symbol, dataType), or ErrMiss when the key
// is absent or past its expiry.
func (c *Cache) Get(ctx context.Context, symbol string, dataType types.DataType) (*Entry, error) {
	var entry Entry
	err := c.db.WithContext(ctx).
		Where("symbol = ? AND data_type = ? AND expires_at > ?", symbol, string(dataType), time.Now()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}
	return &entry, nil
}

// GetPayload reads a live entry and unmarshals its payload into out,
// returning the stored quality score.
func (c *Cache) GetPayload(ctx context.Context, symbol string, dataType types.DataType, out any) (int, error) {
	entry, err := c.Get(ctx, symbol, dataType)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal([]byte(entry.Payload), out); err != nil {
		return 0, fmt.Errorf("failed to unmarshal cached payload: %w", err)
	}
	return entry.QualityScore, nil
}

// Invalidate removes entries for a symbol. An empty dataType removes every
// data type cached for the symbol.
func (c *Cache) Invalidate(ctx context.Context, symbol string, dataType types.DataType) error {
	q := c.db.WithContext(ctx).Where("symbol = ?", symbol)
	if dataType != "" {
		q = q.Where("data_type = ?", string(dataType))
	}
	return q.Delete(&Entry{}).Error
}

// Sweep deletes rows expired for longer than grace. Storage hygiene only:
// correctness never depends on the sweep having run, because Get already
// treats expired rows as misses.
func (c *Cache) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().Add(-grace)).
		Delete(&Entry{})
	return res.RowsAffected, res.Error
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval, grace time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := c.Sweep(ctx, grace)
				if err != nil {
					logger.ErrorWithErr(ctx, "Cache sweep failed", err)
					continue
				}
				if deleted > 0 {
					logger.Info(ctx, "Cache sweep removed expired rows", "deleted", deleted)
				}
			}
		}
	}()
}
