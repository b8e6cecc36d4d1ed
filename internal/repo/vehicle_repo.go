// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Vehicle
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The import reconciler and the transfer
// workflow own all invariants; nothing here checks transfer protection.
//
// Error semantics:
//   - When a vehicle is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateVehicle inserts v, assigning a UUID primary key and UTC creation time
// when unset. On failure, it returns a DB error.
func CreateVehicle(ctx context.Context, db *gorm.DB, v *domain.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(v).Error
}

// GetVehicle fetches a single vehicle by ID, or ErrNotFound if missing.
func GetVehicle(ctx context.Context, db *gorm.DB, id string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVehicleByVIN fetches a single vehicle by VIN, or ErrNotFound if missing.
func GetVehicleByVIN(ctx context.Context, db *gorm.DB, vin string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := db.WithContext(ctx).Where("vin = ?", vin).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVehicleForUpdate fetches a vehicle by ID while holding a row-level write
// lock for the duration of the surrounding transaction. Both approval and
// reconciliation lock the vehicle row this way so their reads of
// current_transfer_id are serialized against each other.
func GetVehicleForUpdate(tx *gorm.DB, id string) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVehiclesByLocation returns every vehicle row scoped to locationID,
// including removed vehicles still inside the retention window. The
// reconciler needs the removed rows in scope to decide restores and
// permanent deletions.
func ListVehiclesByLocation(ctx context.Context, db *gorm.DB, locationID string) ([]domain.Vehicle, error) {
	var out []domain.Vehicle
	err := db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("vin asc").
		Find(&out).Error
	return out, err
}

// CountVehicles returns the number of vehicles for locationID, optionally
// filtered by status ("" means all statuses).
func CountVehicles(ctx context.Context, db *gorm.DB, locationID string, status domain.VehicleStatus) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Vehicle{}).Where("location_id = ?", locationID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListVehiclesPage returns a paginated slice of vehicles for locationID,
// optionally filtered by status, ordered by VIN for stable pages.
func ListVehiclesPage(ctx context.Context, db *gorm.DB, locationID string, status domain.VehicleStatus, offset, limit int) ([]domain.Vehicle, error) {
	q := db.WithContext(ctx).Where("location_id = ?", locationID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Vehicle
	err := q.Order("vin asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// UpdateVehicleFields applies a partial column update to the vehicle row.
// Returns ErrNotFound when no row was affected.
func UpdateVehicleFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Vehicle{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteVehicle permanently removes the vehicle row. Only the reconciler
// calls this, and only for vehicles past the retention window with no active
// transfer. Returns ErrNotFound when no row was affected.
func DeleteVehicle(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Vehicle{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
