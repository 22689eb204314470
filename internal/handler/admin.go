package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taxi/internal/admin"
)

// AdminHandler exposes destructive operator actions.
type AdminHandler struct {
	admin *admin.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc *admin.Service) *AdminHandler {
	return &AdminHandler{admin: svc}
}

// Reset handles POST /admin/reset. Deletes all calls and transactions;
// presence, ratings, and ride history survive.
func (h *AdminHandler) Reset(c *gin.Context) {
	if err := h.admin.Reset(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
