// Transfer workflow HTTP handlers.
//
// Endpoints:
//   - POST /vehicles/:id/transfers        (file a request; idempotency-aware)
//   - GET  /transfers                     (list, paginated, filterable)
//   - GET  /transfers/:id                 (fetch one)
//   - POST /transfers/:id/approve
//   - POST /transfers/:id/reject
//   - POST /transfers/:id/cancel
//   - POST /transfers/:id/transit
//   - POST /transfers/:id/deliver
//   - POST /maintenance/delivered-reset   (return stale deliveries to the pool)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vantagemotors/go-dealer-backend/internal/domain"
	"github.com/vantagemotors/go-dealer-backend/internal/http/middleware"
	"github.com/vantagemotors/go-dealer-backend/internal/repo"
	"github.com/vantagemotors/go-dealer-backend/internal/services"
)

// CreateTransferRequest is the JSON payload for filing a transfer request.
// The vehicle comes from the URL path; the destination from the body.
type CreateTransferRequest struct {
	ToLocationID string `json:"to_location_id" binding:"required"`
	Details      string `json:"details" binding:"max=2000"`
}

// ReasonRequest carries the free-text reason for reject and cancel actions.
type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=2000"`
}

// ListTransfersResponse wraps a page of transfers and pagination information.
type ListTransfersResponse struct {
	Transfers  []domain.Transfer `json:"transfers"`
	Pagination Pagination        `json:"pagination"`
}

// CreateTransfer files a new transfer request for the vehicle in the path.
// Replays of an Idempotency-Key short-circuit before the workflow runs.
func (h *Handlers) CreateTransfer(c *gin.Context) {
	ctx := c.Request.Context()
	a := actor(c)

	// Replay path: a previously recorded Idempotency-Key returns the prior
	// transfer without re-running the workflow.
	if key, has := middleware.GetIdempotencyKey(c); has && middleware.IsReplay(c) {
		if rec, err := repo.GetIdempotency(ctx, h.db, a.UserID, c.Param("id"), key, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetTransfer(ctx, h.db, rec.ResourceID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	t, err := h.transfers.Request(ctx, services.RequestInput{
		VehicleID:    c.Param("id"),
		ToLocationID: strings.TrimSpace(req.ToLocationID),
		RequestedBy:  a,
		Details:      strings.TrimSpace(req.Details),
	})
	if err != nil {
		svcFail(c, err)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && key != "" {
		// Best effort: a failed record means the next replay re-runs the
		// request, which the workflow tolerates.
		_, _ = repo.CreateIdempotency(ctx, h.db, a.UserID, c.Param("id"), key,
			t.ID, http.StatusCreated, h.idempotencyTTL)
	}

	ok(c, http.StatusCreated, t)
}

// ListTransfers returns a page of transfers, optionally filtered by location
// (either side) and workflow status.
func (h *Handlers) ListTransfers(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize, offset := clampPagination(c)

	f := repo.TransferFilter{
		LocationID: strings.TrimSpace(c.Query("location_id")),
		Status:     domain.TransferStatus(strings.TrimSpace(c.Query("status"))),
	}

	total, err := repo.CountTransfers(ctx, h.db, f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListTransfersPage(ctx, h.db, f, offset, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListTransfersResponse{
		Transfers:  items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// GetTransfer fetches a single transfer by id.
func (h *Handlers) GetTransfer(c *gin.Context) {
	t, err := repo.GetTransfer(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "transfer not found")
		return
	}
	ok(c, http.StatusOK, t)
}

// ApproveTransfer approves a requested transfer. Exactly one bid per vehicle
// can win; competing requests are auto-rejected in the same transaction.
func (h *Handlers) ApproveTransfer(c *gin.Context) {
	t, err := h.transfers.Approve(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// RejectTransfer rejects a requested transfer with a mandatory reason.
func (h *Handlers) RejectTransfer(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	t, err := h.transfers.Reject(c.Request.Context(), c.Param("id"), actor(c), strings.TrimSpace(req.Reason))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CancelTransfer cancels a transfer with a mandatory reason, releasing the
// vehicle when the cancelled transfer owned it.
func (h *Handlers) CancelTransfer(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	t, err := h.transfers.Cancel(c.Request.Context(), c.Param("id"), actor(c), strings.TrimSpace(req.Reason))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// TransitTransfer marks an approved transfer as physically in transit.
func (h *Handlers) TransitTransfer(c *gin.Context) {
	t, err := h.transfers.AdvanceToInTransit(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeliverTransfer completes an in-transit transfer, moving the vehicle to its
// destination location.
func (h *Handlers) DeliverTransfer(c *gin.Context) {
	t, err := h.transfers.AdvanceToDelivered(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeliveredReset sweeps delivered transfers older than the configured grace
// period and returns their vehicles to the available pool. Privileged only.
func (h *Handlers) DeliveredReset(c *gin.Context) {
	a := actor(c)
	if a.Role != services.RoleManager && a.Role != services.RoleAdmin {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "manager or admin role required")
		return
	}
	reset, err := h.transfers.ResetStaleDelivered(c.Request.Context(), h.deliveredResetDays)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"reset": reset, "older_than_days": h.deliveredResetDays})
}
