package http

import (
	"time"

	"github.com/fyrsmithlabs/lessond/internal/extraction"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunRequest is the request body for POST /api/v1/runs. Durations are in
// seconds.
type RunRequest struct {
	RunID           string         `json:"run_id"`
	WorkflowID      string         `json:"workflow_id"`
	Task            string         `json:"task"`
	Status          string         `json:"status"`
	DurationSeconds float64        `json:"duration_seconds"`
	Stages          []StageRequest `json:"stages"`
	Steps           []StepRequest  `json:"steps"`
}

// StageRequest is one stage of a RunRequest.
type StageRequest struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Artifacts      int     `json:"artifacts"`
}

// StepRequest is one step of a RunRequest.
type StepRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RunInput converts the request into extractor input.
func (r RunRequest) RunInput() extraction.RunInput {
	in := extraction.RunInput{
		RunID:      r.RunID,
		WorkflowID: r.WorkflowID,
		Task:       r.Task,
		Status:     r.Status,
		Duration:   seconds(r.DurationSeconds),
	}
	for _, st := range r.Stages {
		in.Stages = append(in.Stages, extraction.Stage{
			Name:      st.Name,
			Status:    st.Status,
			Elapsed:   seconds(st.ElapsedSeconds),
			Artifacts: st.Artifacts,
		})
	}
	for _, st := range r.Steps {
		in.Steps = append(in.Steps, extraction.Step{Name: st.Name, Status: st.Status, Error: st.Error})
	}
	return in
}

// RunResponse lists the lessons proposed for a run.
type RunResponse struct {
	LessonIDs []string `json:"lesson_ids"`
}

// ReviewRequest is the body for approve and reject. Reason is required
// for reject; Notes is optional for approve.
type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// FeedbackRequest is the body for POST /api/v1/lessons/:id/feedback.
type FeedbackRequest struct {
	Effectiveness *float64 `json:"effectiveness"`
}

// LessonsResponse wraps a lesson listing.
type LessonsResponse struct {
	Lessons []*lesson.Lesson `json:"lessons"`
	Count   int              `json:"count"`
}

func newLessonsResponse(ls []*lesson.Lesson) LessonsResponse {
	if ls == nil {
		ls = []*lesson.Lesson{}
	}
	return LessonsResponse{Lessons: ls, Count: len(ls)}
}
