package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
)

// handleHealth runs every registered check. Any failure reports degraded
// with 503.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) handleDashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Dashboard())
}

func (s *Server) handleReport(c echo.Context) error {
	report, ok := s.engine.LastReport()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no evaluation has completed yet")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handlePolicy(c echo.Context) error {
	return c.JSON(http.StatusOK, s.policies.Current())
}

func (s *Server) handleProcessRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RunID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run_id is required")
	}

	ids, err := s.engine.ProcessRun(c.Request().Context(), req.RunInput())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, RunResponse{LessonIDs: ids})
}

func (s *Server) handleRecordRetrieval(c echo.Context) error {
	var ev metrics.RetrievalEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.RecordRetrieval(c.Request().Context(), ev); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRecordOutcome(c echo.Context) error {
	var o metrics.WorkflowOutcome
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.RecordOutcome(c.Request().Context(), o); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleListApproved accepts cluster, tags (comma separated) and limit.
func (s *Server) handleListApproved(c echo.Context) error {
	opts := lesson.ListOptions{Cluster: c.QueryParam("cluster")}
	if raw := c.QueryParam("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		opts.Limit = n
	}

	ls, err := s.lessons.ListApproved(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLessonsResponse(ls))
}

func (s *Server) handleListPending(c echo.Context) error {
	ls, err := s.lessons.ListPendingReview(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLessonsResponse(ls))
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.lessons.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetLesson(c echo.Context) error {
	l, err := s.lessons.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (s *Server) bindReview(c echo.Context) (ReviewRequest, error) {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return req, nil
}

func (s *Server) handleApprove(c echo.Context) error {
	req, err := s.bindReview(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := s.lessons.Approve(c.Request().Context(), id, req.Reviewer, req.Notes); err != nil {
		return err
	}
	return s.handleGetLesson(c)
}

func (s *Server) handleReject(c echo.Context) error {
	req, err := s.bindReview(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := s.lessons.Reject(c.Request().Context(), id, req.Reviewer, req.Reason); err != nil {
		return err
	}
	return s.handleGetLesson(c)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Effectiveness == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "effectiveness is required")
	}
	if err := s.engine.RecordFeedback(c.Request().Context(), c.Param("id"), *req.Effectiveness); err != nil {
		return err
	}
	return s.handleGetLesson(c)
}
