package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turingden/find-the-ai/internal/v1/bus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(h gin.HandlerFunc, path string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET(path, h)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil, t.TempDir())
	w := perform(h.Liveness, "/health/live")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestReadiness_HealthyWithoutRedis(t *testing.T) {
	h := NewHandler(nil, t.TempDir())
	w := perform(h.Readiness, "/health/ready")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["redis"])
	assert.Equal(t, "healthy", resp.Checks["stats_dir"])
}

func TestReadiness_HealthyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := bus.NewMirror(mr.Addr(), "")
	require.NoError(t, err)
	defer func() { _ = mirror.Close() }()

	h := NewHandler(mirror, t.TempDir())
	w := perform(h.Readiness, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadiness_UnwritableStatsDir(t *testing.T) {
	h := NewHandler(nil, filepath.Join(t.TempDir(), "does-not-exist"))
	w := perform(h.Readiness, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["stats_dir"])
}

func TestReadiness_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := bus.NewMirror(mr.Addr(), "")
	require.NoError(t, err)
	defer func() { _ = mirror.Close() }()
	mr.Close()

	h := NewHandler(mirror, t.TempDir())
	w := perform(h.Readiness, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
