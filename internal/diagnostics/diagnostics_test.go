package diagnostics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessond/internal/metrics"
)

func healthyInput() Input {
	return Input{
		Relevance:      metrics.Relevance{AvgScore: 0.8, Coverage: 0.9},
		Latency:        metrics.Latency{P95: 120},
		AvgLessonsUsed: 1.2,
	}
}

func TestDiagnose_AllBreached(t *testing.T) {
	d := Diagnose(Input{
		Relevance:      metrics.Relevance{AvgScore: 0.4, Coverage: 0.3},
		Latency:        metrics.Latency{P95: 600},
		AvgLessonsUsed: 0.3,
	})

	assert.False(t, d.Healthy)
	require.Len(t, d.Issues, 4)
	require.Len(t, d.Recommendations, 4)
	assert.Contains(t, d.Issues[0], "relevance")
	assert.Contains(t, d.Issues[1], "coverage")
	assert.Contains(t, d.Issues[2], "latency")
	assert.Contains(t, d.Issues[3], "rarely used")
}

func TestDiagnose_Healthy(t *testing.T) {
	d := Diagnose(healthyInput())
	assert.True(t, d.Healthy)
	assert.Empty(t, d.Issues)
	assert.NotNil(t, d.Issues)
	assert.Empty(t, d.Recommendations)
}

func TestDiagnose_SingleRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   string
	}{
		{"relevance", func(in *Input) { in.Relevance.AvgScore = 0.59 }, "relevance"},
		{"coverage", func(in *Input) { in.Relevance.Coverage = 0.49 }, "coverage"},
		{"latency", func(in *Input) { in.Latency.P95 = 500.1 }, "latency"},
		{"usage", func(in *Input) { in.AvgLessonsUsed = 0.49 }, "rarely used"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInput()
			tt.mutate(&in)
			d := Diagnose(in)
			assert.False(t, d.Healthy)
			require.Len(t, d.Issues, 1)
			assert.Contains(t, d.Issues[0], tt.want)
			assert.Len(t, d.Recommendations, 1)
		})
	}
}

func TestDiagnose_BoundariesAreHealthy(t *testing.T) {
	d := Diagnose(Input{
		Relevance:      metrics.Relevance{AvgScore: 0.6, Coverage: 0.5},
		Latency:        metrics.Latency{P95: 500},
		AvgLessonsUsed: 0.5,
	})
	assert.True(t, d.Healthy)
}

func TestThresholds_Custom(t *testing.T) {
	strict := DefaultThresholds
	strict.MinRelevance = 0.9

	d := strict.Diagnose(healthyInput())
	assert.False(t, d.Healthy)
	assert.Len(t, d.Issues, 1)
}

type fakeSource struct {
	leading metrics.Leading
	lagging metrics.Lagging
	avgUsed float64
	counts  metrics.Counts

	lastWindow int
}

func (f *fakeSource) Leading(time.Duration) metrics.Leading { return f.leading }
func (f *fakeSource) Lagging(time.Duration) metrics.Lagging { return f.lagging }
func (f *fakeSource) Counts() metrics.Counts                { return f.counts }
func (f *fakeSource) AvgLessonsUsed(n int) float64 {
	f.lastWindow = n
	return f.avgUsed
}

func TestEngine_Dashboard(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		leading: metrics.Leading{
			Relevance: metrics.Relevance{AvgScore: 0.4, Coverage: 0.9, Events: 10},
			Latency:   metrics.Latency{P50: 40, P95: 90, P99: 120, Samples: 10},
		},
		lagging: metrics.Lagging{
			SuccessRate: metrics.SuccessRate{Improvement: 0.12, Total: 20},
		},
		avgUsed: 1,
		counts:  metrics.Counts{Outcomes: 20, RetrievalEvents: 10},
	}

	e := NewEngine(src, WithClock(func() time.Time { return now }))
	dash := e.Dashboard(24 * time.Hour)

	assert.Equal(t, now, dash.GeneratedAt)
	assert.Equal(t, src.leading, dash.Leading)
	assert.Equal(t, src.lagging, dash.Lagging)
	assert.Equal(t, src.counts, dash.Counts)
	assert.False(t, dash.Diagnosis.Healthy)
	assert.Len(t, dash.Diagnosis.Issues, 1)
	assert.Equal(t, 50, src.lastWindow)

	assert.Equal(t, dash.Diagnosis, e.Diagnose(24*time.Hour))
}

func TestEngine_WithCollector(t *testing.T) {
	c, err := metrics.NewCollector("", nil)
	require.NoError(t, err)

	d := NewEngine(c).Diagnose(time.Hour)
	assert.False(t, d.Healthy)
	assert.Len(t, d.Issues, 3, "an empty window breaches relevance, coverage and usage")
}

func TestUpdateGauges(t *testing.T) {
	UpdateGauges(Dashboard{
		Diagnosis: Diagnosis{Healthy: false, Issues: []string{"a", "b"}},
		Leading: metrics.Leading{
			Relevance: metrics.Relevance{AvgScore: 0.55, Coverage: 0.4, PrecisionAt3: 0.3},
			Latency:   metrics.Latency{P50: 10, P95: 95, P99: 300},
		},
		Lagging: metrics.Lagging{
			SuccessRate:    metrics.SuccessRate{Improvement: 0.2},
			ErrorReduction: metrics.ErrorReduction{ReductionPct: 12.5},
			Satisfaction:   metrics.Satisfaction{Mean: 0.8},
		},
	})

	assert.Equal(t, 0.55, testutil.ToFloat64(Relevance))
	assert.Equal(t, 0.4, testutil.ToFloat64(Coverage))
	assert.Equal(t, 0.3, testutil.ToFloat64(PrecisionAt3))
	assert.Equal(t, 95.0, testutil.ToFloat64(LatencyMS.WithLabelValues("p95")))
	assert.Equal(t, 0.2, testutil.ToFloat64(SuccessImprovement))
	assert.Equal(t, 12.5, testutil.ToFloat64(ErrorReductionPct))
	assert.Equal(t, 0.8, testutil.ToFloat64(Satisfaction))
	assert.Equal(t, 0.0, testutil.ToFloat64(Healthy))
	assert.Equal(t, 2.0, testutil.ToFloat64(Issues))

	UpdateGauges(Dashboard{Diagnosis: Diagnosis{Healthy: true}})
	assert.Equal(t, 1.0, testutil.ToFloat64(Healthy))
}
