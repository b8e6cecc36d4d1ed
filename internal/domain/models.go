// Package domain defines the persistence models for dealership locations,
// vehicles, transfer requests, and activity records. These types are mapped
// with GORM and form the core data layer of the dealer exchange application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location represents a dealership location participating in the shared
// inventory pool. Vehicles belong to exactly one location at a time and
// transfer requests move them between locations.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Code: short unique dealer code used by the import feed (e.g. "ATL-01").
//   - Name: human-readable dealership name.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Location struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Code      string    `json:"code"       gorm:"type:varchar(16);not null;uniqueIndex"`
	Name      string    `json:"name"       gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Location.
func (Location) TableName() string { return "locations" }

// Vehicle represents a single unit of inventory. Identity is the VIN
// (globally unique) plus a location-scoped stock number. Vehicles are created
// by the import reconciler and mutated by both the reconciler
// (status/removed_from_feed_at) and the transfer workflow
// (status/current_transfer_id).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - VIN: 17-character vehicle identification number, globally unique.
//   - StockNumber: dealer-assigned stock number, unique per location.
//   - Year/Make/Model/Trim: feed-tracked title attributes.
//   - Price: listed price; Mileage: odometer reading.
//   - Status: lifecycle status (see status.go).
//   - LocationID: current physical location.
//   - OriginalLocationID: location of first import; never changed afterwards.
//   - CurrentTransferID: the owning transfer while the vehicle is claimed or
//     in transit; nil otherwise. A non-nil value shields the vehicle from all
//     feed-driven mutation (see Vehicle.UnderActiveTransfer).
//   - RemovedFromFeedAt: set when the vehicle disappears from its location's
//     feed while no transfer is active; cleared on restore.
type Vehicle struct {
	ID                 string          `json:"id"                   gorm:"type:char(36);primaryKey"`
	VIN                string          `json:"vin"                  gorm:"type:varchar(17);not null;uniqueIndex"`
	StockNumber        string          `json:"stock_number"         gorm:"type:varchar(32);not null;uniqueIndex:ux_location_stock,priority:2"`
	Year               int             `json:"year"                 gorm:"not null"`
	Make               string          `json:"make"                 gorm:"type:varchar(64);not null"`
	Model              string          `json:"model"                gorm:"type:varchar(64);not null"`
	Trim               string          `json:"trim"                 gorm:"type:varchar(64)"`
	Price              decimal.Decimal `json:"price"                gorm:"type:decimal(12,2);not null"`
	Mileage            int             `json:"mileage"              gorm:"not null;default:0"`
	Status             VehicleStatus   `json:"status"               gorm:"type:varchar(16);not null;index"`
	LocationID         string          `json:"location_id"          gorm:"type:char(36);not null;index;uniqueIndex:ux_location_stock,priority:1"`
	OriginalLocationID string          `json:"original_location_id" gorm:"type:char(36);not null"`
	CurrentTransferID  *string         `json:"current_transfer_id"  gorm:"type:char(36);index"`
	RemovedFromFeedAt  *time.Time      `json:"removed_from_feed_at" gorm:"index"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Vehicle.
func (Vehicle) TableName() string { return "vehicles" }

// UnderActiveTransfer reports whether the vehicle is owned by a non-terminal
// transfer. Such a vehicle must never be soft-deleted, permanently deleted,
// or have its status overwritten by feed reconciliation.
func (v *Vehicle) UnderActiveTransfer() bool { return v != nil && v.CurrentTransferID != nil }

// Transfer represents one location's request to move a vehicle from another
// location. Several transfers may hold status "requested" for the same
// vehicle (competing bids); at most one may ever hold "approved" or
// "in-transit". Terminal rows are retained for audit and are never deleted.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - VehicleID: the requested vehicle (indexed).
//   - FromLocationID: owning location at the time of the request.
//   - ToLocationID: requesting location.
//   - RequestedByID: the user who filed the request.
//   - Status: workflow state (see status.go).
//   - Details: free-form note provided by the requester.
//   - CompetingRequests: count of other requested transfers for the same
//     vehicle at creation time. Audit/UX only; never consulted for
//     correctness.
//   - ApprovedByID plus one timestamp per transition, stamped exactly once.
//   - RejectionReason / CancellationReason: required in their terminal state.
type Transfer struct {
	ID                 string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	VehicleID          string         `json:"vehicle_id"         gorm:"type:char(36);not null;index"`
	FromLocationID     string         `json:"from_location_id"   gorm:"type:char(36);not null;index"`
	ToLocationID       string         `json:"to_location_id"     gorm:"type:char(36);not null;index"`
	RequestedByID      string         `json:"requested_by_id"    gorm:"type:varchar(64);not null"`
	Status             TransferStatus `json:"status"             gorm:"type:varchar(16);not null;index"`
	Details            string         `json:"details,omitempty"  gorm:"type:text"`
	CompetingRequests  int            `json:"competing_requests" gorm:"not null;default:0"`
	ApprovedByID       *string        `json:"approved_by_id,omitempty"      gorm:"type:varchar(64)"`
	RejectionReason    *string        `json:"rejection_reason,omitempty"    gorm:"type:text"`
	CancellationReason *string        `json:"cancellation_reason,omitempty" gorm:"type:text"`
	RequestedAt        time.Time      `json:"requested_at"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	InTransitAt        *time.Time     `json:"in_transit_at,omitempty"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	RejectedAt         *time.Time     `json:"rejected_at,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	// Vehicle is the requested unit. The association is read-only from the
	// transfer side; vehicle mutations go through the workflow service.
	Vehicle Vehicle `json:"-" gorm:"foreignKey:VehicleID;references:ID;constraint:OnUpdate:CASCADE"`
}

// TableName returns the database table name for Transfer.
func (Transfer) TableName() string { return "transfers" }

// Activity is an append-only fact record written as a side effect of every
// reconciliation action and workflow transition. Rows are never updated or
// deleted; VehicleID is a plain identifier (no FK) so audit history survives
// a permanent vehicle purge.
type Activity struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	VehicleID string    `json:"vehicle_id" gorm:"type:char(36);not null;index"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index"`
	Action    string    `json:"action"     gorm:"type:varchar(48);not null;index"`
	Details   string    `json:"details"    gorm:"type:text"`
	Metadata  string    `json:"metadata"   gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for Activity.
func (Activity) TableName() string { return "activities" }
