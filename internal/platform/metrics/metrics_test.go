package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/doctors/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	for _, path := range []string{"/doctors/1", "/doctors/2", "/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/doctors/:id", "200")); got != 2 {
		t.Errorf("expected 2 requests on /doctors/:id, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/missing", "404")); got != 1 {
		t.Errorf("expected 1 404 on /missing, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.SlotComputations.WithLabelValues("OK").Inc()

	e := echo.New()
	e.GET("/metrics", m.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `slot_computations_total{code="OK"} 1`) {
		t.Errorf("expected slot_computations_total in output")
	}
}

func TestWatchGauge(t *testing.T) {
	m := New()
	v := 3.0
	m.WatchGauge("db_pool_acquired_conns", "Connections currently acquired", func() float64 { return v })

	e := echo.New()
	e.GET("/metrics", m.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "db_pool_acquired_conns 3") {
		t.Errorf("expected gauge value in output")
	}
}
