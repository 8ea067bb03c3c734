package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/lessons/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST("/api/v1/runs", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/v1/lessons/abc"},
		{http.MethodGet, "/api/v1/lessons/def"},
		{http.MethodPost, "/api/v1/runs"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	got := collect(t, reader)

	requests, ok := got["lessond.http.requests_total"]
	if !ok {
		t.Fatal("requests counter not found")
	}
	sum, ok := requests.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected requests data type %T", requests.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		if endpoint.AsString() == "/api/v1/lessons/abc" || endpoint.AsString() == "/api/v1/lessons/def" {
			t.Errorf("raw lesson path leaked into endpoint label: %s", endpoint.AsString())
		}
		if endpoint.AsString() == "/api/v1/lessons/:id" && dp.Value != 2 {
			t.Errorf("expected 2 lesson lookups, got %d", dp.Value)
		}
	}
	if total != 4 {
		t.Errorf("expected 4 requests, got %d", total)
	}

	duration, ok := got["lessond.http.request_duration_seconds"]
	if !ok {
		t.Fatal("duration histogram not found")
	}
	if hist, ok := duration.Data.(metricdata.Histogram[float64]); ok {
		var count uint64
		for _, dp := range hist.DataPoints {
			count += dp.Count
		}
		if count != 4 {
			t.Errorf("expected 4 duration recordings, got %d", count)
		}
	}

	if _, ok := got["lessond.http.response_size_bytes"]; !ok {
		t.Error("response size histogram not found")
	}

	active, ok := got["lessond.http.active_requests"]
	if !ok {
		t.Fatal("active requests gauge not found")
	}
	if s, ok := active.Data.(metricdata.Sum[int64]); ok {
		for _, dp := range s.DataPoints {
			if dp.Value != 0 {
				t.Errorf("expected no requests in flight, got %d", dp.Value)
			}
		}
	}
}

func TestHTTPMetrics_RecordsHandlerErrorStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/report", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no evaluation has completed yet")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/report", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	sum, ok := collect(t, reader)["lessond.http.requests_total"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("requests counter not found")
	}
	statuses := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		statuses[endpoint.AsString()] = status.AsInt64()
	}

	want := map[string]int64{
		"/api/v1/report": http.StatusNotFound,
		"/boom":          http.StatusInternalServerError,
	}
	for endpoint, status := range want {
		if statuses[endpoint] != status {
			t.Errorf("endpoint %s: expected status %d, got %d", endpoint, status, statuses[endpoint])
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/lessons/:id", "/api/v1/lessons/:id"},
		{"/api/v1/dashboard", "/api/v1/dashboard"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
