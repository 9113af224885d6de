package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RouteDecision caches the category a classifier chose for a query.
type RouteDecision struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	QueryHash string `gorm:"size:64;not null;uniqueIndex"`
	Category  string `gorm:"size:32;not null"`
	Source    string `gorm:"size:32"`
	Hits      int    `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// RouteStats summarizes the cache contents.
type RouteStats struct {
	Total      int64
	ByCategory map[string]int64
	Hits       int64
}

// NormalizeQuery lowercases q and collapses whitespace so trivially
// different spellings share a cache entry.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// HashQuery returns the cache key for q.
func HashQuery(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}

// LookupRoute returns the category cached for query by source. ok is false
// on a miss, including an entry recorded by a different source. A hit
// increments the entry's hit counter.
func LookupRoute(db *gorm.DB, query, source string) (category string, ok bool, err error) {
	var rd RouteDecision
	err = db.Where("query_hash = ?", HashQuery(query)).First(&rd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: lookup route: %w", err)
	}
	if rd.Source != source {
		return "", false, nil
	}
	if err := db.Model(&RouteDecision{}).Where("id = ?", rd.ID).
		UpdateColumn("hits", gorm.Expr("hits + ?", 1)).Error; err != nil {
		return "", false, fmt.Errorf("store: record hit: %w", err)
	}
	return rd.Category, true, nil
}

// SaveRoute upserts the decision for query.
func SaveRoute(db *gorm.DB, query, category, source string) error {
	rd := RouteDecision{
		QueryHash: HashQuery(query),
		Category:  category,
		Source:    source,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "query_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "source", "updated_at"}),
	}).Create(&rd)
	if result.Error != nil {
		return fmt.Errorf("store: save route: %w", result.Error)
	}
	return nil
}

// PruneRoutes deletes decisions not updated since before. It returns the
// number of rows removed.
func PruneRoutes(db *gorm.DB, before time.Time) (int64, error) {
	result := db.Where("updated_at < ?", before).Delete(&RouteDecision{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: prune routes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats returns cache totals grouped by category.
func Stats(db *gorm.DB) (RouteStats, error) {
	type row struct {
		Category string
		Count    int64
		Hits     int64
	}
	var rows []row
	if err := db.Model(&RouteDecision{}).
		Select("category, count(*) as count, sum(hits) as hits").
		Group("category").
		Find(&rows).Error; err != nil {
		return RouteStats{}, fmt.Errorf("store: stats: %w", err)
	}

	stats := RouteStats{ByCategory: make(map[string]int64)}
	for _, r := range rows {
		stats.Total += r.Count
		stats.Hits += r.Hits
		stats.ByCategory[r.Category] = r.Count
	}
	return stats, nil
}
