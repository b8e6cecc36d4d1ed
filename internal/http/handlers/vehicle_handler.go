// Vehicle and location HTTP handlers.
//
// This file exposes REST endpoints for the shared inventory pool:
//   - GET  /locations                    (list dealership locations)
//   - POST /locations                    (register a location)
//   - GET  /locations/:id/stats          (inventory counts by status)
//   - GET  /vehicles                     (list, paginated, filterable)
//   - GET  /vehicles/:id                 (fetch one)
//   - GET  /vehicles/:id/transfers       (transfer history)
//   - GET  /vehicles/:id/activity        (audit trail, paginated)
//
// Handlers are transport-thin: they validate input, call application services
// or repository reads, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
	"github.com/vantagemotors/go-dealer-backend/internal/http/middleware"
	"github.com/vantagemotors/go-dealer-backend/internal/repo"
	"github.com/vantagemotors/go-dealer-backend/internal/services"
	"github.com/vantagemotors/go-dealer-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// TransferWorkflow defines the transfer lifecycle operations consumed by the
// HTTP handlers. Implementations must be safe for concurrent use and honor
// the provided context.
type TransferWorkflow interface {
	Request(ctx context.Context, in services.RequestInput) (*domain.Transfer, error)
	Approve(ctx context.Context, transferID string, approver services.Actor) (*domain.Transfer, error)
	Reject(ctx context.Context, transferID string, rejecter services.Actor, reason string) (*domain.Transfer, error)
	Cancel(ctx context.Context, transferID string, canceller services.Actor, reason string) (*domain.Transfer, error)
	AdvanceToInTransit(ctx context.Context, transferID string, actor services.Actor) (*domain.Transfer, error)
	AdvanceToDelivered(ctx context.Context, transferID string, actor services.Actor) (*domain.Transfer, error)
	ResetStaleDelivered(ctx context.Context, olderThanDays int) (int, error)
}

// InventoryReconciler defines the feed reconciliation operations consumed by
// the import endpoints.
type InventoryReconciler interface {
	ReconcileFromFeed(ctx context.Context, locationID string, mode services.ReconcileMode) (*services.Plan, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for vehicles, locations, transfers, and
// imports. Mutations go through the service interfaces; read-only listings go
// straight to the repository on the shared DB handle, the same split the
// services themselves use.
type Handlers struct {
	transfers  TransferWorkflow
	reconciler InventoryReconciler
	db         *gorm.DB

	// deliveredResetDays is the grace period used by the delivered-reset
	// maintenance endpoint.
	deliveredResetDays int

	// idempotencyTTL bounds how long a recorded Idempotency-Key replays.
	idempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services and DB.
func New(transfers TransferWorkflow, reconciler InventoryReconciler, db *gorm.DB, deliveredResetDays int, idempotencyTTL time.Duration) *Handlers {
	if deliveredResetDays < 1 {
		deliveredResetDays = 3
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &Handlers{
		transfers:          transfers,
		reconciler:         reconciler,
		db:                 db,
		deliveredResetDays: deliveredResetDays,
		idempotencyTTL:     idempotencyTTL,
	}
}

// actor assembles the caller identity from the context set by the Identity
// middleware.
func actor(c *gin.Context) services.Actor {
	return services.Actor{
		UserID:     middleware.UserFrom(c),
		LocationID: middleware.LocationFrom(c),
		Role:       middleware.RoleFrom(c),
	}
}

//
// DTOs
//

// CreateLocationRequest is the JSON payload for registering a location.
type CreateLocationRequest struct {
	Code string `json:"code" binding:"required,min=1,max=32"`
	Name string `json:"name" binding:"required,min=1,max=255"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListVehiclesResponse wraps a page of vehicles and pagination information.
type ListVehiclesResponse struct {
	Vehicles   []domain.Vehicle `json:"vehicles"`
	Pagination Pagination       `json:"pagination"`
}

// ListActivitiesResponse wraps a page of audit records.
type ListActivitiesResponse struct {
	Activities []domain.Activity `json:"activities"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// clampPagination parses and bounds page and page_size query params, returning
// (page, pageSize, offset).
func clampPagination(c *gin.Context) (page, pageSize, offset int) {
	offset, pageSize = utils.PageBounds(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	page = offset/pageSize + 1
	return
}

// paginationFor builds the response metadata for a page.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Locations
//

// ListLocations returns every registered dealership location.
func (h *Handlers) ListLocations(c *gin.Context) {
	locs, err := repo.ListLocations(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"locations": locs})
}

// CreateLocation registers a dealership location. Restricted to privileged
// callers; line staff never create locations.
func (h *Handlers) CreateLocation(c *gin.Context) {
	a := actor(c)
	if a.Role != services.RoleManager && a.Role != services.RoleAdmin {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "manager or admin role required")
		return
	}

	var req CreateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	loc, err := repo.CreateLocation(c.Request.Context(), h.db,
		strings.ToUpper(strings.TrimSpace(req.Code)), strings.TrimSpace(req.Name))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, loc)
}

// LocationStats returns inventory counts by status for one location.
func (h *Handlers) LocationStats(c *gin.Context) {
	locID := c.Param("id")
	if _, err := repo.GetLocation(c.Request.Context(), h.db, locID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "location not found")
		return
	}
	stats, err := repo.LocationInventoryStats(c.Request.Context(), h.db, locID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

//
// Vehicles
//

// ListVehicles returns a page of vehicles, optionally filtered by location
// and status. Removed vehicles are included only when explicitly requested
// via status=removed; the default filter is all statuses.
func (h *Handlers) ListVehicles(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize, offset := clampPagination(c)

	locationID := strings.TrimSpace(c.Query("location_id"))
	status := domain.VehicleStatus(strings.TrimSpace(c.Query("status")))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown vehicle status")
		return
	}

	total, err := repo.CountVehicles(ctx, h.db, locationID, status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListVehiclesPage(ctx, h.db, locationID, status, offset, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListVehiclesResponse{
		Vehicles:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetVehicle fetches a single vehicle by id.
func (h *Handlers) GetVehicle(c *gin.Context) {
	v, err := repo.GetVehicle(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "vehicle not found")
		return
	}
	ok(c, http.StatusOK, v)
}

// VehicleTransfers returns the full transfer history for a vehicle, newest
// first.
func (h *Handlers) VehicleTransfers(c *gin.Context) {
	ctx := c.Request.Context()
	vehicleID := c.Param("id")
	if _, err := repo.GetVehicle(ctx, h.db, vehicleID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "vehicle not found")
		return
	}
	transfers, err := repo.ListTransfersForVehicle(ctx, h.db, vehicleID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"transfers": transfers})
}

// VehicleActivity returns the audit trail for a vehicle, paginated, newest
// first. The trail survives permanent deletion of the vehicle itself, so this
// endpoint deliberately does not 404 on unknown vehicle ids.
func (h *Handlers) VehicleActivity(c *gin.Context) {
	ctx := c.Request.Context()
	vehicleID := c.Param("id")
	page, pageSize, offset := clampPagination(c)

	total, err := repo.CountActivities(ctx, h.db, vehicleID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListActivitiesPage(ctx, h.db, vehicleID, offset, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListActivitiesResponse{
		Activities: items,
		Pagination: paginationFor(page, pageSize, total),
	})
}
