// Location repository functions. Locations change rarely; the import
// scheduler and the HTTP layer mostly read them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
)

// CreateLocation inserts a new dealership location.
func CreateLocation(ctx context.Context, db *gorm.DB, code, name string) (*domain.Location, error) {
	l := &domain.Location{
		ID:        uuid.NewString(),
		Code:      code,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		return nil, err
	}
	return l, nil
}

// GetLocation fetches a location by ID, or ErrNotFound if missing.
func GetLocation(ctx context.Context, db *gorm.DB, id string) (*domain.Location, error) {
	var l domain.Location
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLocationByCode fetches a location by dealer code, or ErrNotFound.
func GetLocationByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Location, error) {
	var l domain.Location
	if err := db.WithContext(ctx).Where("code = ?", code).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLocations returns all locations ordered by code.
func ListLocations(ctx context.Context, db *gorm.DB) ([]domain.Location, error) {
	var out []domain.Location
	err := db.WithContext(ctx).Order("code asc").Find(&out).Error
	return out, err
}
