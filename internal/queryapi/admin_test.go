package queryapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/pkg/models"
)

func TestResetEKFWithoutForceIssuesConfirmationThenCompletesOnReplay(t *testing.T) {
	reg, _ := testRegistry(t)
	h := NewAdminHandler(reg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset_ekf/truck-1", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	token := data["confirmation_token"].(string)
	require.NotEmpty(t, token)

	body, _ := json.Marshal(resetEKFRequest{ConfirmationToken: token})
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/reset_ekf/truck-1", bytes.NewReader(body))
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestResetEKFRejectsReplayedTokenForWrongTruck(t *testing.T) {
	reg, cfg := testRegistry(t)
	cfg.TankSpecs = append(cfg.TankSpecs, config.TankSpecConfig{TruckID: "truck-2", CapacityL: 400, Shape: models.TankShapeCylinder})
	_, ok := reg.GetOrCreate("truck-2")
	require.True(t, ok)
	h := NewAdminHandler(reg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset_ekf/truck-1", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	token := data["confirmation_token"].(string)

	body, _ := json.Marshal(resetEKFRequest{ConfirmationToken: token})
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/reset_ekf/truck-2", bytes.NewReader(body))
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestResetEKFWithForceSkipsConfirmation(t *testing.T) {
	reg, _ := testRegistry(t)
	h := NewAdminHandler(reg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	body, _ := json.Marshal(resetEKFRequest{Force: true})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset_ekf/truck-1", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResetIdleKalmanUnknownTruckNotFound(t *testing.T) {
	reg, _ := testRegistry(t)
	h := NewAdminHandler(reg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset_idle_kalman/unknown", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetDriverSessionIsNoopWhenDriverNotActive(t *testing.T) {
	reg, _ := testRegistry(t)
	h := NewAdminHandler(reg)
	r := gin.New()
	h.Register(&r.RouterGroup)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reset_driver_session/truck-1/driver-9", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
