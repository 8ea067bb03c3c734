package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

type stubGenerator struct {
	reply  string
	err    error
	prompt string
	system string
}

func (s *stubGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	s.system, s.prompt = system, prompt
	return s.reply, s.err
}

func (s *stubGenerator) Available() bool { return true }

func testRun() RunInput {
	return RunInput{
		RunID:      "run-7",
		WorkflowID: "code-review",
		Task:       "review PR",
		Status:     "completed",
	}
}

const twoCandidates = `{"lessons":[
  {"type":"best_practice","title":"Run linters first","content":"c","situation":"s","recommendation":"r","confidence":0.9,"domain_tags":["go","ci"]},
  {"type":"edge_case","title":"Flaky network","content":"c","situation":"s","recommendation":"r","confidence":0.5,"domain_tags":["net"]}
]}`

func TestExtractor_Extract(t *testing.T) {
	gen := &stubGenerator{reply: twoCandidates}
	ex := NewExtractor(gen, 0, nil)

	got := ex.Extract(context.Background(), testRun())

	require.Len(t, got, 1, "the 0.5 candidate is below the default floor")
	l := got[0]
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, lesson.TypeBestPractice, l.Type)
	assert.Equal(t, "Run linters first", l.Title)
	assert.Equal(t, lesson.StatusProposed, l.Status)
	assert.Equal(t, CreatedBy, l.CreatedBy)
	assert.Equal(t, "code-review", l.Metadata.WorkflowID)
	assert.Equal(t, "code", l.Metadata.WorkflowCluster)
	assert.Equal(t, []string{"go", "ci"}, l.Metadata.DomainTags)
	assert.Equal(t, 0.9, l.Metadata.ConfidenceScore)
	assert.Equal(t, []string{"run-7"}, l.Metadata.EvidenceRunIDs)

	assert.Equal(t, systemPrompt, gen.system)
	assert.Contains(t, gen.prompt, "Workflow: code-review")
}

func TestExtractor_CustomFloor(t *testing.T) {
	ex := NewExtractor(&stubGenerator{reply: twoCandidates}, 0.4, nil)
	assert.Len(t, ex.Extract(context.Background(), testRun()), 2)
}

func TestExtractor_FencedReply(t *testing.T) {
	ex := NewExtractor(&stubGenerator{reply: "```json\n" + twoCandidates + "\n```"}, 0, nil)
	assert.Len(t, ex.Extract(context.Background(), testRun()), 1)
}

func TestExtractor_FailuresYieldEmpty(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{"malformed reply", &stubGenerator{reply: "Here are some lessons: run linters first."}},
		{"service error", &stubGenerator{err: errors.New("connection refused")}},
		{"unknown type", &stubGenerator{reply: `{"lessons":[{"type":"hunch","title":"t","confidence":0.9}]}`}},
		{"empty reply", &stubGenerator{reply: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			ex := NewExtractor(tt.gen, 0, zap.New(core))

			var got []*lesson.Lesson
			assert.NotPanics(t, func() { got = ex.Extract(context.Background(), testRun()) })
			assert.NotNil(t, got)
			assert.Empty(t, got)
			assert.Equal(t, 1, logs.Len())
		})
	}
}

func TestExtractor_DropsInvalidCandidates(t *testing.T) {
	reply := `{"lessons":[
	  {"type":"optimization","title":"","confidence":0.9},
	  {"type":"optimization","title":"Overconfident","confidence":1.5},
	  {"type":"optimization","title":"Cache builds","confidence":0.8}
	]}`
	ex := NewExtractor(&stubGenerator{reply: reply}, 0, nil)

	got := ex.Extract(context.Background(), testRun())
	require.Len(t, got, 1)
	assert.Equal(t, "Cache builds", got[0].Title)
}

func TestExtractor_NoOpGenerator(t *testing.T) {
	ex := NewExtractor(nil, 0, nil)
	assert.Empty(t, ex.Extract(context.Background(), testRun()))
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{}\n```\n ", `{}`},
		{"unterminated", "```json\n{}", "```json\n{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFence(tt.input))
		})
	}
}

func TestParseCandidates(t *testing.T) {
	got, err := ParseCandidates(twoCandidates)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lesson.TypeEdgeCase, got[1].Type)
	assert.Equal(t, 0.5, got[1].Confidence)

	_, err = ParseCandidates("not json")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	got, err = ParseCandidates(`{"lessons":[]}`)
	require.NoError(t, err)
	assert.Empty(t, got)
}
