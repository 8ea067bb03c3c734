package extraction

import (
	"time"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

// RunInput describes a finished workflow run to extract lessons from.
type RunInput struct {
	RunID      string
	WorkflowID string
	Task       string
	Status     string
	Duration   time.Duration
	Stages     []Stage
	Steps      []Step
}

// Stage is one stage of a run.
type Stage struct {
	Name      string
	Status    string
	Elapsed   time.Duration
	Artifacts int
}

// Step is one executed step of a run.
type Step struct {
	Name   string
	Status string
	Error  string
}

// Candidate is a lesson proposed by the generator, before filtering.
type Candidate struct {
	Type           lesson.Type `json:"type"`
	Title          string      `json:"title"`
	Content        string      `json:"content"`
	Situation      string      `json:"situation"`
	Recommendation string      `json:"recommendation"`
	Confidence     float64     `json:"confidence"`
	DomainTags     []string    `json:"domain_tags"`
}

// Config holds generator and filtering settings.
type Config struct {
	// Provider is "none", "anthropic" or "openai".
	Provider  string
	Model     string
	APIKey    string `json:"-"`
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int

	// MinConfidence drops candidates scoring below it. Zero means 0.7.
	MinConfidence float64
}

// DefaultMinConfidence is the confidence floor applied to candidates.
const DefaultMinConfidence = 0.7
