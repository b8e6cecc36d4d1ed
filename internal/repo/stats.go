// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// admin reporting endpoints (per-location inventory breakdown, import-cycle
// freshness).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// InventoryStats summarizes one location's vehicle pool.
type InventoryStats struct {
	Total     int64                          `json:"total"`
	ByStatus  map[domain.VehicleStatus]int64 `json:"by_status"`
	UpdatedAt *time.Time                     `json:"updated_at,omitempty"`
}

// LocationInventoryStats returns the vehicle count per status for locationID
// together with the most recent vehicle update time. The freshness timestamp
// lets operators spot locations whose import cycle has stalled.
func LocationInventoryStats(ctx context.Context, db *gorm.DB, locationID string) (*InventoryStats, error) {
	stats := &InventoryStats{ByStatus: make(map[domain.VehicleStatus]int64)}

	var rows []struct {
		Status domain.VehicleStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Vehicle{}).
		Select("status, COUNT(*) AS n").
		Where("location_id = ?", locationID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.N
		stats.Total += r.N
	}
	if stats.Total == 0 {
		return stats, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	err = db.WithContext(ctx).
		Model(&domain.Vehicle{}).
		Select("updated_at").
		Where("location_id = ?", locationID).
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	stats.UpdatedAt = &row.UpdatedAt
	return stats, nil
}
