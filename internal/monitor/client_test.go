package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fyrsmithlabs/lessond/internal/http"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newLesson(t *testing.T, id, title string) *lesson.Lesson {
	t.Helper()
	l, err := lesson.NewLesson(lesson.TypeBestPractice, title, "content", "situation", "recommendation",
		lesson.Metadata{WorkflowID: "build", ConfidenceScore: 0.8}, "test")
	require.NoError(t, err)
	l.ID = id
	return l
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	assert.Equal(t, "http://localhost:9191", NewClient("http://localhost:9191/").BaseURL())
}

func TestClient_Health(t *testing.T) {
	t.Run("degraded is not an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			writeJSON(w, http.StatusServiceUnavailable, httpserver.HealthResponse{
				Status: "degraded",
				Checks: map[string]string{"nats": "disconnected"},
			})
		})

		h, err := c.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, "disconnected", h.Checks["nats"])
	})

	t.Run("other statuses fail", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := c.Health(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	})
}

func TestClient_Report(t *testing.T) {
	t.Run("not yet evaluated", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, httpserver.ErrorResponse{Error: "no evaluation has completed yet"})
		})

		_, ok, err := c.Report(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("returns report", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/report", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"bloat_ratio": 0.75, "staleness_days": 2.0, "alerts": []any{}})
		})

		report, ok, err := c.Report(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0.75, report.BloatRatio)
	})
}

func TestClient_ErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, httpserver.ErrorResponse{Error: "invalid status transition"})
	})

	_, err := c.Approve(context.Background(), "abc", "alex", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "invalid status transition", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestClient_ErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Not Found")
}

func TestClient_ListApproved(t *testing.T) {
	var query string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/lessons", r.URL.Path)
		query = r.URL.RawQuery
		writeJSON(w, http.StatusOK, httpserver.LessonsResponse{
			Lessons: []*lesson.Lesson{newLesson(t, "l1", "Cache modules")},
			Count:   1,
		})
	})

	lessons, err := c.ListApproved(context.Background(), lesson.ListOptions{
		Cluster: "code",
		Tags:    []string{"go", "ci"},
		Limit:   5,
	})
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "l1", lessons[0].ID)
	assert.Equal(t, lesson.TypeBestPractice, lessons[0].Type)
	assert.Equal(t, "cluster=code&limit=5&tags=go%2Cci", query)
}

func TestClient_ReviewAndFeedback(t *testing.T) {
	type call struct {
		path string
		body map[string]any
	}
	var calls []call
	reviewed := newLesson(t, "l1", "Pin toolchain")
	reviewed.Status = lesson.StatusApproved
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, call{r.URL.Path, body})
		writeJSON(w, http.StatusOK, reviewed)
	})
	ctx := context.Background()

	_, err := c.Approve(ctx, "l1", "alex", "solid")
	require.NoError(t, err)
	_, err = c.Reject(ctx, "l1", "sam", "too specific")
	require.NoError(t, err)
	l, err := c.Feedback(ctx, "l1", 0.8)
	require.NoError(t, err)
	assert.Equal(t, "l1", l.ID)
	assert.Equal(t, lesson.StatusApproved, l.Status)

	require.Len(t, calls, 3)
	assert.Equal(t, call{"/api/v1/lessons/l1/approve", map[string]any{"reviewer": "alex", "notes": "solid"}}, calls[0])
	assert.Equal(t, call{"/api/v1/lessons/l1/reject", map[string]any{"reviewer": "sam", "reason": "too specific"}}, calls[1])
	assert.Equal(t, call{"/api/v1/lessons/l1/feedback", map[string]any{"effectiveness": 0.8}}, calls[2])
}
