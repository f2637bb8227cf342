package queryapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
)

const confirmationTTL = 2 * time.Minute

// pendingConfirmation is a short-lived, single-use token standing in for
// a two-step reset_ekf confirmation: without force it takes a first call
// to obtain the token and a second call replaying it to proceed. Grounded
// on the pattern of returning a request-scoped identifier for multi-step
// flows (password reset / payment verification) that must be replayed to
// complete.
type pendingConfirmation struct {
	truckID   string
	expiresAt time.Time
}

// AdminHandler serves the operator-command surface: reset_ekf,
// reset_idle_kalman, reset_driver_session.
type AdminHandler struct {
	registry *estimator.Registry

	mu      sync.Mutex
	pending map[string]pendingConfirmation
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(registry *estimator.Registry) *AdminHandler {
	return &AdminHandler{registry: registry, pending: make(map[string]pendingConfirmation)}
}

// Register mounts the admin routes onto a gin router group. Callers
// should apply AuthRequired + RoleRequired(RoleAdmin) to the group
// before calling this.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/reset_ekf/:truck_id", h.resetEKF)
	rg.POST("/reset_idle_kalman/:truck_id", h.resetIdleKalman)
	rg.POST("/reset_driver_session/:truck_id/:driver_id", h.resetDriverSession)
}

type resetEKFRequest struct {
	Force             bool   `json:"force"`
	ConfirmationToken string `json:"confirmation_token"`
}

// resetEKF implements the two-step reset_ekf(truck_id, force) command. A
// request without force=true and without a still-valid confirmation
// token gets back a token instead of performing the reset; replaying
// that token (within confirmationTTL) for the same truck completes it.
func (h *AdminHandler) resetEKF(c *gin.Context) {
	truckID := c.Param("truck_id")
	coord, found := h.registry.Get(truckID)
	if !found {
		fail(c, http.StatusNotFound, "NOT_FOUND", "no coordinator for truck "+truckID)
		return
	}

	var req resetEKFRequest
	_ = c.ShouldBindJSON(&req)

	if req.Force {
		coord.ResetEKF()
		ok(c, http.StatusOK, gin.H{"truck_id": truckID, "reset": true})
		return
	}

	if req.ConfirmationToken != "" {
		if h.consumeConfirmation(req.ConfirmationToken, truckID) {
			coord.ResetEKF()
			ok(c, http.StatusOK, gin.H{"truck_id": truckID, "reset": true})
			return
		}
		fail(c, http.StatusBadRequest, "BAD_REQUEST", "confirmation token expired, mismatched, or already used")
		return
	}

	token := h.issueConfirmation(truckID)
	ok(c, http.StatusAccepted, gin.H{
		"truck_id":           truckID,
		"confirmation_token": token,
		"expires_in_seconds": int(confirmationTTL.Seconds()),
	})
}

func (h *AdminHandler) resetIdleKalman(c *gin.Context) {
	truckID := c.Param("truck_id")
	coord, found := h.registry.Get(truckID)
	if !found {
		fail(c, http.StatusNotFound, "NOT_FOUND", "no coordinator for truck "+truckID)
		return
	}
	coord.ResetIdleKalman()
	ok(c, http.StatusOK, gin.H{"truck_id": truckID, "reset": true})
}

func (h *AdminHandler) resetDriverSession(c *gin.Context) {
	truckID := c.Param("truck_id")
	driverID := c.Param("driver_id")
	coord, found := h.registry.Get(truckID)
	if !found {
		fail(c, http.StatusNotFound, "NOT_FOUND", "no coordinator for truck "+truckID)
		return
	}
	coord.ForceCloseDriverSession(driverID)
	ok(c, http.StatusOK, gin.H{"truck_id": truckID, "driver_id": driverID, "closed": true})
}

func (h *AdminHandler) issueConfirmation(truckID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictExpiredLocked()
	token := uuid.NewString()
	h.pending[token] = pendingConfirmation{truckID: truckID, expiresAt: time.Now().Add(confirmationTTL)}
	return token
}

func (h *AdminHandler) consumeConfirmation(token, truckID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, exists := h.pending[token]
	if !exists {
		return false
	}
	delete(h.pending, token)
	return p.truckID == truckID && time.Now().Before(p.expiresAt)
}

func (h *AdminHandler) evictExpiredLocked() {
	now := time.Now()
	for token, p := range h.pending {
		if now.After(p.expiresAt) {
			delete(h.pending, token)
		}
	}
}
