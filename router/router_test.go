package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"knowledge-base-backend/controller"
	"knowledge-base-backend/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	ctl := controller.New(controller.Deps{})

	r := Register(ctl, Options{Secret: "s"})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)

	r = Register(ctl, Options{
		Secret: "s",
		Health: func(context.Context) error { return errors.New("mysql unavailable") },
	})
	w := serve(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "mysql unavailable")
}

func TestOptionalRoutes(t *testing.T) {
	ctl := controller.New(controller.Deps{})

	r := Register(ctl, Options{Secret: "s"})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics").Code)

	m := metrics.New()
	m.TaskFinished("COMPLETED")
	r = Register(ctl, Options{Secret: "s", Metrics: m.Handler()})
	w := serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ingest_tasks_total")
}

func TestCORSPreflight(t *testing.T) {
	r := Register(controller.New(controller.Deps{}), Options{Secret: "s"})

	req := httptest.NewRequest(http.MethodOptions, "/api/vector/collections", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
