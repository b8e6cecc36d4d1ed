// Feed import HTTP handler.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vantagemotors/go-dealer-backend/internal/services"
)

// ImportFeed reconciles a location's inventory against its feed snapshot.
// The mode query parameter selects apply (default) or dry-run; dry-run
// computes the identical plan without mutating the store. Privileged only:
// imports rewrite inventory wholesale.
func (h *Handlers) ImportFeed(c *gin.Context) {
	a := actor(c)
	if a.Role != services.RoleManager && a.Role != services.RoleAdmin {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "manager or admin role required")
		return
	}

	mode := services.ReconcileMode(strings.TrimSpace(c.DefaultQuery("mode", string(services.ModeApply))))
	if mode != services.ModeApply && mode != services.ModeDryRun {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mode must be apply or dry-run")
		return
	}

	plan, err := h.reconciler.ReconcileFromFeed(c.Request.Context(), c.Param("id"), mode)
	if err != nil {
		svcFail(c, err)
		return
	}
	ok(c, http.StatusOK, plan)
}
