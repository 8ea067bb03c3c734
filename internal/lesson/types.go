package lesson

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Errors for lesson operations.
var (
	// ErrNotFound indicates the lesson id is not present in the store.
	ErrNotFound = errors.New("lesson not found")

	// ErrInvalidTransition indicates the lesson is not in a source state
	// for the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateID indicates a lesson with the same id already exists.
	ErrDuplicateID = errors.New("duplicate lesson id")

	// ErrInvalidEffectiveness indicates a feedback value outside [0,1].
	ErrInvalidEffectiveness = errors.New("effectiveness must be between 0 and 1")

	// ErrInvalidType indicates an unknown lesson type.
	ErrInvalidType = errors.New("invalid lesson type")

	// ErrInvalidStatus indicates an unknown lesson status.
	ErrInvalidStatus = errors.New("invalid lesson status")

	// ErrInvalidLesson indicates a lesson failed validation.
	ErrInvalidLesson = errors.New("invalid lesson")

	// ErrReviewerRequired indicates a review action without reviewer identity.
	ErrReviewerRequired = errors.New("reviewer is required")

	// ErrReasonRequired indicates a rejection without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")

	// ErrCorruptDocument indicates the persisted lesson document could not be decoded.
	ErrCorruptDocument = errors.New("lesson document corrupted")
)

// Type classifies a lesson. It is informational only.
type Type string

const (
	TypeSuccessPattern Type = "success_pattern"
	TypeFailurePattern Type = "failure_pattern"
	TypeOptimization   Type = "optimization"
	TypeEdgeCase       Type = "edge_case"
	TypeAntiPattern    Type = "anti_pattern"
	TypeBestPractice   Type = "best_practice"
)

// Types lists every valid lesson type.
var Types = []Type{
	TypeSuccessPattern,
	TypeFailurePattern,
	TypeOptimization,
	TypeEdgeCase,
	TypeAntiPattern,
	TypeBestPractice,
}

// Valid reports whether t is a known lesson type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a string to a Type, failing on unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidType, err)
	}
	return t.UnmarshalText([]byte(s))
}

// Status is the lifecycle state of a lesson.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusArchived Status = "archived"
)

// Statuses lists every valid lesson status.
var Statuses = []Status{StatusProposed, StatusApproved, StatusRejected, StatusArchived}

// Valid reports whether s is a known lesson status.
func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusApproved, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusArchived
}

// ParseStatus converts a string to a Status, failing on unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return s.UnmarshalText([]byte(raw))
}

// transitions maps each source status to its allowed targets.
var transitions = map[Status][]Status{
	StatusProposed: {StatusApproved, StatusRejected},
	StatusApproved: {StatusArchived},
}

// CanTransition reports whether a lesson may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Metadata describes where a lesson came from and where it applies.
type Metadata struct {
	WorkflowID      string   `json:"workflow_id"`
	WorkflowCluster string   `json:"workflow_cluster"`
	DomainTags      []string `json:"domain_tags"`
	Complexity      string   `json:"complexity"`

	// ConfidenceScore is set at proposal time and never changes.
	ConfidenceScore float64 `json:"confidence_score"`

	// EvidenceRunIDs are the runs the lesson was distilled from.
	// Immutable once recorded.
	EvidenceRunIDs []string `json:"evidence_run_ids"`
}

// Lesson is a curated insight with an approval lifecycle.
type Lesson struct {
	ID             string   `json:"id"`
	Type           Type     `json:"type"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Situation      string   `json:"situation"`
	Recommendation string   `json:"recommendation"`
	Status         Status   `json:"status"`
	Metadata       Metadata `json:"metadata"`

	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	// UsageCount is monotonic and never negative.
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// EffectivenessScore is nil until the first feedback; afterwards it stays in [0,1].
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`
}

// NewLesson creates a proposed lesson with a generated id.
func NewLesson(typ Type, title, content, situation, recommendation string, meta Metadata, createdBy string) (*Lesson, error) {
	l := &Lesson{
		ID:             uuid.New().String(),
		Type:           typ,
		Title:          title,
		Content:        content,
		Situation:      situation,
		Recommendation: recommendation,
		Status:         StatusProposed,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate checks the lesson fields.
func (l *Lesson) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidLesson)
	}
	if l.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidLesson)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, l.Type)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, l.Status)
	}
	if c := l.Metadata.ConfidenceScore; !inUnitRange(c) {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidLesson, c)
	}
	if l.UsageCount < 0 {
		return fmt.Errorf("%w: negative usage count", ErrInvalidLesson)
	}
	if e := l.EffectivenessScore; e != nil && !inUnitRange(*e) {
		return fmt.Errorf("%w: effectiveness %.2f outside [0,1]", ErrInvalidLesson, *e)
	}
	return nil
}

// inUnitRange reports whether v is a number within [0,1]. NaN is not.
func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// IdleSince returns when the lesson was last used. A lesson never used is
// idle from its review, and from its creation when it was never reviewed.
// Time spent waiting for review does not count as idle.
func (l *Lesson) IdleSince() time.Time {
	switch {
	case l.LastUsedAt != nil:
		return *l.LastUsedAt
	case l.ReviewedAt != nil:
		return *l.ReviewedAt
	default:
		return l.CreatedAt
	}
}

// HasAnyTag reports whether the lesson carries at least one of tags.
func (l *Lesson) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range l.Metadata.DomainTags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the lesson.
func (l *Lesson) Clone() *Lesson {
	if l == nil {
		return nil
	}
	c := *l
	c.Metadata.DomainTags = cloneStrings(l.Metadata.DomainTags)
	c.Metadata.EvidenceRunIDs = cloneStrings(l.Metadata.EvidenceRunIDs)
	if l.ReviewedAt != nil {
		t := *l.ReviewedAt
		c.ReviewedAt = &t
	}
	if l.LastUsedAt != nil {
		t := *l.LastUsedAt
		c.LastUsedAt = &t
	}
	if l.EffectivenessScore != nil {
		v := *l.EffectivenessScore
		c.EffectivenessScore = &v
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Stats summarizes the store for dashboards.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`

	// ByType counts approved lessons only.
	ByType map[Type]int `json:"by_type"`
}

// ListOptions filters ListApproved.
type ListOptions struct {
	// Cluster restricts results to one workflow cluster when non-empty.
	Cluster string

	// Tags requires at least one overlapping domain tag when non-empty.
	Tags []string

	// Limit truncates the result; zero means no limit.
	Limit int
}
