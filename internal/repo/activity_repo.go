// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Activity
// model, the append-only audit trail written by both core components.
//
// Activities are facts: they are inserted once and never updated or deleted.
// Writers treat activity persistence as a side effect, never a precondition,
// so a failed insert is logged by the caller and does not roll back the state
// transition that produced it.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// RecordActivity appends one audit row. Metadata is JSON-encoded; a nil map
// is stored as an empty object.
func RecordActivity(ctx context.Context, db *gorm.DB, vehicleID, userID, action, details string, metadata map[string]any) (*domain.Activity, error) {
	meta := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		meta = string(b)
	}
	a := &domain.Activity{
		ID:        uuid.NewString(),
		VehicleID: vehicleID,
		UserID:    userID,
		Action:    action,
		Details:   details,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// CountActivities returns the number of activity rows for vehicleID
// ("" counts all rows).
func CountActivities(ctx context.Context, db *gorm.DB, vehicleID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Activity{})
	if vehicleID != "" {
		q = q.Where("vehicle_id = ?", vehicleID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListActivitiesPage returns a page of activity rows, newest first,
// optionally scoped to one vehicle.
func ListActivitiesPage(ctx context.Context, db *gorm.DB, vehicleID string, offset, limit int) ([]domain.Activity, error) {
	q := db.WithContext(ctx).Model(&domain.Activity{})
	if vehicleID != "" {
		q = q.Where("vehicle_id = ?", vehicleID)
	}
	var out []domain.Activity
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}
