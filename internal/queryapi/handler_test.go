package queryapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeAdapter struct {
	historyCalled bool
}

func (f *fakeAdapter) EstimatorSnapshot(ctx context.Context, truckID string, ekf models.EKFState, idle models.IdleKalmanState, ts time.Time) error {
	return nil
}
func (f *fakeAdapter) Event(ctx context.Context, topic string, truckID string, payload interface{}, ts time.Time) error {
	return nil
}
func (f *fakeAdapter) ReadingArchive(ctx context.Context, reading models.Reading) error { return nil }
func (f *fakeAdapter) LatestSnapshot(ctx context.Context, truckID string) (*models.EKFState, *models.IdleKalmanState, bool, error) {
	return nil, nil, false, nil
}
func (f *fakeAdapter) History(ctx context.Context, truckID string, since, until time.Time) ([]models.Reading, error) {
	f.historyCalled = true
	return []models.Reading{{TruckID: truckID, Timestamp: since.Add(time.Minute)}}, nil
}

func testRegistry(t *testing.T) (*estimator.Registry, *config.Config) {
	cfg := config.Default()
	cfg.TankSpecs = []config.TankSpecConfig{{TruckID: "truck-1", CapacityL: 400, Shape: models.TankShapeCylinder}}
	bus := eventbus.New()
	reg := estimator.NewRegistry(cfg, bus)
	_, ok := reg.GetOrCreate("truck-1")
	require.True(t, ok)
	return reg, cfg
}

func TestGetSnapshotReturnsNotFoundForUnknownTruck(t *testing.T) {
	reg, cfg := testRegistry(t)
	h := NewHandler(reg, nil, cfg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	req := httptest.NewRequest(http.MethodGet, "/snapshot/unknown", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSnapshotReturnsCurrentState(t *testing.T) {
	reg, cfg := testRegistry(t)
	h := NewHandler(reg, nil, cfg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	req := httptest.NewRequest(http.MethodGet, "/snapshot/truck-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetFleetSnapshotListsAllTrucks(t *testing.T) {
	reg, cfg := testRegistry(t)
	h := NewHandler(reg, nil, cfg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	req := httptest.NewRequest(http.MethodGet, "/fleet", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetHistoryWithoutAdapterReturnsServiceUnavailable(t *testing.T) {
	reg, cfg := testRegistry(t)
	h := NewHandler(reg, nil, cfg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	req := httptest.NewRequest(http.MethodGet, "/history/truck-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetHistoryCallsAdapter(t *testing.T) {
	reg, cfg := testRegistry(t)
	adapter := &fakeAdapter{}
	h := NewHandler(reg, adapter, cfg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	req := httptest.NewRequest(http.MethodGet, "/history/truck-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, adapter.historyCalled)
}
