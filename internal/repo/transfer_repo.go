// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Transfer
// model.
//
// Workflow rules (who may transition what, sibling auto-rejection, vehicle
// synchronization) live in services.TransferService; these functions only
// persist and query rows. Several helpers deliberately take a transaction
// handle because approval and cancellation must read and write transfers
// inside the same transaction that locks the vehicle row.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// CreateTransfer inserts t, assigning a UUID primary key and UTC request time
// when unset.
func CreateTransfer(ctx context.Context, db *gorm.DB, t *domain.Transfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.RequestedAt.IsZero() {
		t.RequestedAt = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return db.WithContext(ctx).Create(t).Error
}

// GetTransfer fetches a single transfer by ID, or ErrNotFound if missing.
func GetTransfer(ctx context.Context, db *gorm.DB, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransferForUpdate fetches a transfer by ID under a row-level write lock.
// Concurrent Approve calls on sibling transfers serialize here and on the
// vehicle row; the loser observes a status that already left "requested".
func GetTransferForUpdate(tx *gorm.DB, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTransfer persists all fields of t.
func SaveTransfer(ctx context.Context, db *gorm.DB, t *domain.Transfer) error {
	return db.WithContext(ctx).Save(t).Error
}

// ListRequestedSiblings returns the other transfers for the same vehicle that
// still hold status "requested", excluding excludeID. Called inside the
// approval transaction to auto-reject losing bids.
func ListRequestedSiblings(tx *gorm.DB, vehicleID, excludeID string) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := tx.
		Where("vehicle_id = ? AND id <> ? AND status = ?", vehicleID, excludeID, domain.TransferRequested).
		Find(&out).Error
	return out, err
}

// CountRequestedForVehicle returns how many transfers currently hold status
// "requested" for vehicleID. Recorded on new transfers for audit/UX.
func CountRequestedForVehicle(ctx context.Context, db *gorm.DB, vehicleID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Transfer{}).
		Where("vehicle_id = ? AND status = ?", vehicleID, domain.TransferRequested).
		Count(&total).Error
	return total, err
}

// ListTransfersForVehicle returns all transfers ever filed for vehicleID,
// newest first.
func ListTransfersForVehicle(ctx context.Context, db *gorm.DB, vehicleID string) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("requested_at desc").
		Find(&out).Error
	return out, err
}

// TransferFilter narrows transfer listings. Zero values mean "any".
type TransferFilter struct {
	// LocationID matches either side of the transfer (from or to).
	LocationID string
	Status     domain.TransferStatus
}

// CountTransfers returns the number of transfers matching f.
func CountTransfers(ctx context.Context, db *gorm.DB, f TransferFilter) (int64, error) {
	var total int64
	err := transferQuery(db.WithContext(ctx), f).Count(&total).Error
	return total, err
}

// ListTransfersPage returns a page of transfers matching f, newest first.
func ListTransfersPage(ctx context.Context, db *gorm.DB, f TransferFilter, offset, limit int) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := transferQuery(db.WithContext(ctx), f).
		Order("requested_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func transferQuery(db *gorm.DB, f TransferFilter) *gorm.DB {
	q := db.Model(&domain.Transfer{})
	if f.LocationID != "" {
		q = q.Where("from_location_id = ? OR to_location_id = ?", f.LocationID, f.LocationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// ListStaleDelivered returns delivered transfers whose delivery happened
// before cutoff and whose vehicle still points at them. These are the rows
// the delivered-reset sweep returns to the available pool.
func ListStaleDelivered(tx *gorm.DB, cutoff time.Time) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := tx.
		Joins("JOIN vehicles ON vehicles.current_transfer_id = transfers.id").
		Where("transfers.status = ? AND transfers.delivered_at < ?", domain.TransferDelivered, cutoff).
		Find(&out).Error
	return out, err
}
