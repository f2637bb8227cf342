package queryapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

// Handler serves the read-only snapshot/fleet/history surface.
type Handler struct {
	registry *estimator.Registry
	adapter  persistence.Adapter
	cfg      *config.Config
}

// NewHandler builds a Handler. adapter may be nil; history lookups then
// fail with a 503 rather than a nil-pointer panic, which lets a deployment
// run the live snapshot/fleet surface without any persistence adapter
// wired in yet.
func NewHandler(registry *estimator.Registry, adapter persistence.Adapter, cfg *config.Config) *Handler {
	return &Handler{registry: registry, adapter: adapter, cfg: cfg}
}

// Register mounts the handler's routes onto a gin router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/snapshot/:truck_id", h.getSnapshot)
	rg.GET("/fleet", h.getFleetSnapshot)
	rg.GET("/history/:truck_id", h.getHistory)
}

// getSnapshot godoc
// @Summary Get one truck's current estimator snapshot
// @Router /snapshot/{truck_id} [get]
func (h *Handler) getSnapshot(c *gin.Context) {
	truckID := c.Param("truck_id")
	snap, found := h.registry.Snapshot(truckID)
	if !found {
		fail(c, http.StatusNotFound, "NOT_FOUND", "no snapshot for truck "+truckID)
		return
	}
	snap = h.withComputedStaleness(snap)
	ok(c, http.StatusOK, snap)
}

// getFleetSnapshot godoc
// @Summary Get every registered truck's current estimator snapshot
// @Router /fleet [get]
func (h *Handler) getFleetSnapshot(c *gin.Context) {
	snaps := h.registry.Snapshots()
	out := make([]models.TruckSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, h.withComputedStaleness(s))
	}
	ok(c, http.StatusOK, out)
}

// getHistory godoc
// @Summary Get a truck's archived reading history within a time window
// @Router /history/{truck_id} [get]
func (h *Handler) getHistory(c *gin.Context) {
	if h.adapter == nil {
		fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no persistence adapter configured")
		return
	}

	truckID := c.Param("truck_id")
	since, until, err := parseWindow(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	readings, err := h.adapter.History(c.Request.Context(), truckID, since, until)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "history lookup failed")
		return
	}
	ok(c, http.StatusOK, readings)
}

// withComputedStaleness recomputes IsStale against the current time and
// the configured stale window, rather than trusting whatever the
// registry's periodic OFFLINE sweep last wrote. The two can legitimately
// disagree between sweep ticks, and the query layer owns the
// externally-visible staleness flag.
func (h *Handler) withComputedStaleness(s models.TruckSnapshot) models.TruckSnapshot {
	s.IsStale = time.Since(s.LastReadingAt) > h.cfg.StaleWindow()
	return s
}

func parseWindow(c *gin.Context) (since, until time.Time, err error) {
	until = time.Now()
	since = until.Add(-24 * time.Hour)

	if v := c.Query("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return since, until, err
		}
	}
	if v := c.Query("until"); v != "" {
		until, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return since, until, err
		}
	}
	return since, until, nil
}
