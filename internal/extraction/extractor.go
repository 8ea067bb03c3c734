package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

const instrumentationName = "github.com/fyrsmithlabs/lessond/internal/extraction"

// CreatedBy is the proposer recorded on extracted lessons.
const CreatedBy = "llm"

// ErrMalformedResponse is returned when a reply cannot be decoded.
var ErrMalformedResponse = errors.New("malformed extraction response")

// Extractor proposes lessons for finished runs.
type Extractor struct {
	gen           Generator
	minConfidence float64
	logger        *zap.Logger

	candidatesCounter metric.Int64Counter
	failuresCounter   metric.Int64Counter
}

// NewExtractor returns an Extractor. A minConfidence of zero or less uses
// DefaultMinConfidence.
func NewExtractor(gen Generator, minConfidence float64, logger *zap.Logger) *Extractor {
	if gen == nil {
		gen = &NoOpGenerator{}
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{gen: gen, minConfidence: minConfidence, logger: logger}
	e.initMetrics()
	return e
}

func (e *Extractor) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	e.candidatesCounter, err = meter.Int64Counter(
		"lessond.extraction.candidates_total",
		metric.WithDescription("Candidates returned by the generator, by outcome"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		e.logger.Warn("failed to create candidates counter", zap.Error(err))
	}

	e.failuresCounter, err = meter.Int64Counter(
		"lessond.extraction.failures_total",
		metric.WithDescription("Extraction attempts that produced no usable reply"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		e.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// Extract returns the proposed lessons for in. It never fails: errors are
// logged and yield an empty list.
func (e *Extractor) Extract(ctx context.Context, in RunInput) []*lesson.Lesson {
	logger := e.logger.With(zap.String("run_id", in.RunID), zap.String("workflow_id", in.WorkflowID))

	reply, err := e.gen.Generate(ctx, systemPrompt, BuildPrompt(in))
	if err != nil {
		e.fail(ctx, "generate")
		logger.Warn("lesson extraction failed", zap.Error(err))
		return []*lesson.Lesson{}
	}

	candidates, err := ParseCandidates(reply)
	if err != nil {
		e.fail(ctx, "decode")
		logger.Warn("lesson extraction reply rejected", zap.Error(err))
		return []*lesson.Lesson{}
	}

	cluster := DetectCluster(in.WorkflowID)
	out := make([]*lesson.Lesson, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence < e.minConfidence {
			e.countCandidate(ctx, "low_confidence")
			logger.Debug("dropping low-confidence candidate",
				zap.String("title", c.Title), zap.Float64("confidence", c.Confidence))
			continue
		}

		l, err := lesson.NewLesson(c.Type, c.Title, c.Content, c.Situation, c.Recommendation, lesson.Metadata{
			WorkflowID:      in.WorkflowID,
			WorkflowCluster: cluster,
			DomainTags:      c.DomainTags,
			ConfidenceScore: c.Confidence,
			EvidenceRunIDs:  []string{in.RunID},
		}, CreatedBy)
		if err != nil {
			e.countCandidate(ctx, "invalid")
			logger.Warn("dropping invalid candidate", zap.String("title", c.Title), zap.Error(err))
			continue
		}

		e.countCandidate(ctx, "accepted")
		out = append(out, l)
	}

	logger.Info("lessons extracted",
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(out)))
	return out
}

func (e *Extractor) fail(ctx context.Context, stage string) {
	if e.failuresCounter != nil {
		e.failuresCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (e *Extractor) countCandidate(ctx context.Context, outcome string) {
	if e.candidatesCounter != nil {
		e.candidatesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// StripFence removes a surrounding fenced code block, with or without a
// language tag. Text without a fence is returned trimmed.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	body := strings.TrimSuffix(text[3:], "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the language tag on the opening line.
		if tag := strings.TrimSpace(body[:nl]); !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

// ParseCandidates decodes a generator reply. Candidate types are validated
// by the lesson enum, so a single bad type rejects the reply.
func ParseCandidates(text string) ([]Candidate, error) {
	var doc struct {
		Lessons []Candidate `json:"lessons"`
	}
	if err := json.Unmarshal([]byte(StripFence(text)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return doc.Lessons, nil
}
