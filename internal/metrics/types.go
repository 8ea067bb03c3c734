package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidRecord indicates a record failed validation before append.
	ErrInvalidRecord = errors.New("invalid metrics record")

	// ErrInvalidKind indicates an unknown snapshot metric kind.
	ErrInvalidKind = errors.New("invalid metric kind")

	// ErrCorruptDocument indicates the persisted metrics document could not be decoded.
	ErrCorruptDocument = errors.New("metrics document corrupted")
)

// Kind enumerates the scalar metrics that can be snapshotted.
type Kind string

const (
	KindRelevance      Kind = "relevance"
	KindLatency        Kind = "latency"
	KindCoverage       Kind = "coverage"
	KindSuccessRate    Kind = "success_rate"
	KindDuration       Kind = "duration"
	KindErrorReduction Kind = "error_reduction"
	KindSatisfaction   Kind = "satisfaction"
	KindMemoryBloat    Kind = "memory_bloat"
	KindRetrievalLoad  Kind = "retrieval_load"
	KindStaleness      Kind = "staleness"
)

// Kinds lists every valid metric kind.
var Kinds = []Kind{
	KindRelevance, KindLatency, KindCoverage, KindSuccessRate, KindDuration,
	KindErrorReduction, KindSatisfaction, KindMemoryBloat, KindRetrievalLoad, KindStaleness,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown kinds.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKind, err)
	}
	if !Kind(s).Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	*k = Kind(s)
	return nil
}

// WorkflowOutcome records one completed workflow run. Immutable once recorded.
type WorkflowOutcome struct {
	RunID           string   `json:"run_id"`
	WorkflowID      string   `json:"workflow_id"`
	TaskDescription string   `json:"task_description"`
	Cluster         string   `json:"cluster"`
	Success         bool     `json:"success"`
	DurationSeconds float64  `json:"duration_seconds"`
	ErrorCount      int      `json:"error_count"`
	ErrorTypes      []string `json:"error_types"`

	// LessonsRetrieved lists lesson ids surfaced for this run.
	LessonsRetrieved []string `json:"lessons_retrieved"`
	LessonsUsed      int      `json:"lessons_used"`

	// Satisfaction is an optional human rating in [0,1].
	Satisfaction *float64  `json:"human_satisfaction,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (o *WorkflowOutcome) validate() error {
	if o.ErrorCount < 0 {
		return fmt.Errorf("%w: negative error count", ErrInvalidRecord)
	}
	if o.LessonsUsed < 0 {
		return fmt.Errorf("%w: negative lessons used", ErrInvalidRecord)
	}
	if !finite(o.DurationSeconds) || o.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidRecord, o.DurationSeconds)
	}
	if s := o.Satisfaction; s != nil && !inUnitRange(*s) {
		return fmt.Errorf("%w: satisfaction %v outside [0,1]", ErrInvalidRecord, *s)
	}
	return nil
}

func (o WorkflowOutcome) clone() WorkflowOutcome {
	o.ErrorTypes = cloneSlice(o.ErrorTypes)
	o.LessonsRetrieved = cloneSlice(o.LessonsRetrieved)
	if o.Satisfaction != nil {
		v := *o.Satisfaction
		o.Satisfaction = &v
	}
	return o
}

// RetrievalEvent records one memory lookup. Immutable once recorded.
type RetrievalEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	WorkflowID   string    `json:"workflow_id"`
	Cluster      string    `json:"cluster"`
	QueryContext string    `json:"query_context"`

	// RetrievedIDs is ordered by rank; Scores is parallel to it.
	RetrievedIDs []string  `json:"retrieved_lesson_ids"`
	Scores       []float64 `json:"retrieval_scores"`
	LatencyMS    float64   `json:"latency_ms"`

	// GroundTruth lists lesson ids later confirmed helpful. Empty means unknown.
	GroundTruth []string `json:"ground_truth_relevant,omitempty"`
}

func (e *RetrievalEvent) validate() error {
	if len(e.RetrievedIDs) != len(e.Scores) {
		return fmt.Errorf("%w: %d retrieved ids but %d scores", ErrInvalidRecord, len(e.RetrievedIDs), len(e.Scores))
	}
	if !finite(e.LatencyMS) || e.LatencyMS < 0 {
		return fmt.Errorf("%w: latency %v", ErrInvalidRecord, e.LatencyMS)
	}
	for i, score := range e.Scores {
		if !inUnitRange(score) {
			return fmt.Errorf("%w: score %v at rank %d outside [0,1]", ErrInvalidRecord, score, i)
		}
	}
	return nil
}

func (e RetrievalEvent) clone() RetrievalEvent {
	e.RetrievedIDs = cloneSlice(e.RetrievedIDs)
	e.Scores = cloneSlice(e.Scores)
	e.GroundTruth = cloneSlice(e.GroundTruth)
	return e
}

// Snapshot is a point-in-time scalar observation. Append-only.
type Snapshot struct {
	Kind      Kind              `json:"metric_type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

func (s Snapshot) validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, s.Kind)
	}
	if !finite(s.Value) {
		return fmt.Errorf("%w: %s value %v", ErrInvalidRecord, s.Kind, s.Value)
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	if s.Metadata != nil {
		m := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			m[k] = v
		}
		s.Metadata = m
	}
	return s
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Relevance summarizes retrieval quality over a window.
type Relevance struct {
	AvgScore     float64 `json:"avg_relevance_score"`
	PrecisionAt3 float64 `json:"precision_at_3"`
	Coverage     float64 `json:"coverage"`
	Events       int     `json:"events"`
}

// Latency holds retrieval latency percentiles in milliseconds.
type Latency struct {
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
	Samples int     `json:"samples"`
}

// SuccessRate compares outcomes with and without retrieved lessons.
type SuccessRate struct {
	Overall        float64 `json:"overall"`
	WithLessons    float64 `json:"with_lessons"`
	WithoutLessons float64 `json:"without_lessons"`

	// Improvement is WithLessons - WithoutLessons; positive favors lessons.
	Improvement float64 `json:"improvement"`
	Total       int     `json:"total"`
}

// ErrorCount pairs an error tag with its frequency.
type ErrorCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ErrorReduction compares mean error counts between the older and newer
// halves of a window.
type ErrorReduction struct {
	OldRate      float64      `json:"old_error_rate"`
	NewRate      float64      `json:"new_error_rate"`
	ReductionPct float64      `json:"reduction_pct"`
	TopErrors    []ErrorCount `json:"top_errors"`
}

// Satisfaction summarizes optional human ratings.
type Satisfaction struct {
	Mean         float64 `json:"mean"`
	ResponseRate float64 `json:"response_rate"`
	Responses    int     `json:"responses"`
}

// Leading groups indicators predictive of future effectiveness.
type Leading struct {
	Relevance Relevance `json:"relevance"`
	Latency   Latency   `json:"latency"`
}

// Lagging groups indicators of realized outcome effects.
type Lagging struct {
	SuccessRate    SuccessRate    `json:"success_rate"`
	ErrorReduction ErrorReduction `json:"error_reduction"`
	Satisfaction   Satisfaction   `json:"satisfaction"`
}

// Counts reports the size of each log.
type Counts struct {
	Outcomes        int `json:"workflow_outcomes"`
	RetrievalEvents int `json:"retrieval_events"`
	Snapshots       int `json:"metric_snapshots"`
}
