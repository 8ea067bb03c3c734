package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/lessond/internal/alerting"
	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/metrics"
)

func newTestModel() Model {
	return NewModel(NewClient("http://localhost:9191"), 5*time.Second)
}

func sampleDashboard() diagnostics.Dashboard {
	return diagnostics.Dashboard{
		Diagnosis: diagnostics.Diagnosis{
			Healthy:         false,
			Issues:          []string{"low relevance"},
			Recommendations: []string{"raise the similarity threshold"},
		},
		Leading: metrics.Leading{
			Relevance: metrics.Relevance{AvgScore: 0.55, PrecisionAt3: 0.67, Coverage: 0.8, Events: 12},
			Latency:   metrics.Latency{P50: 40, P95: 123.4, P99: 300, Samples: 12},
		},
		Lagging: metrics.Lagging{
			SuccessRate:    metrics.SuccessRate{Overall: 0.75, WithLessons: 0.8, WithoutLessons: 0.7, Improvement: 0.1, Total: 20},
			ErrorReduction: metrics.ErrorReduction{ReductionPct: 25},
			Satisfaction:   metrics.Satisfaction{Mean: 0.9, Responses: 4},
		},
	}
}

func sampleStats() lesson.Stats {
	return lesson.Stats{
		Total: 10,
		ByStatus: map[lesson.Status]int{
			lesson.StatusProposed: 2,
			lesson.StatusApproved: 6,
			lesson.StatusArchived: 2,
		},
	}
}

func TestNewModel(t *testing.T) {
	model := newTestModel()
	assert.Equal(t, "http://localhost:9191", model.client.BaseURL())
	assert.Equal(t, 5*time.Second, model.interval)
	assert.Equal(t, diagnostics.DefaultThresholds, model.thresholds)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	assert.NotNil(t, newTestModel().Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	updated, cmd := newTestModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	updated, cmd := newTestModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	updated, cmd := newTestModel().Update(tickMsg(time.Now()))

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_SnapshotMsg(t *testing.T) {
	model := newTestModel()
	snap := NewSnapshot(sampleDashboard(), nil, sampleStats())

	updated, cmd := model.Update(snapshotMsg(snap))
	m := updated.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.lastUpdate.IsZero())
	assert.Equal(t, []float64{0.55}, m.snapshot.RelevanceHistory)
	assert.Equal(t, []float64{123.4}, m.snapshot.LatencyHistory)
	assert.Equal(t, []float64{0.1}, m.snapshot.ImprovementHistory)

	t.Run("idle window keeps history", func(t *testing.T) {
		idle := NewSnapshot(diagnostics.Dashboard{Diagnosis: diagnostics.Diagnosis{Healthy: true}}, nil, sampleStats())
		updated, _ := m.Update(snapshotMsg(idle))
		next := updated.(Model)
		assert.Equal(t, []float64{0.55}, next.snapshot.RelevanceHistory)
		assert.Equal(t, []float64{0.1}, next.snapshot.ImprovementHistory)
	})

	t.Run("clears previous error", func(t *testing.T) {
		errored, _ := m.Update(errMsg(fmt.Errorf("boom")))
		recovered, _ := errored.(Model).Update(snapshotMsg(snap))
		assert.Nil(t, recovered.(Model).err)
	})
}

func TestModel_Update_ErrMsg(t *testing.T) {
	updated, cmd := newTestModel().Update(errMsg(fmt.Errorf("connection refused")))

	m := updated.(Model)
	assert.Nil(t, cmd)
	if assert.Error(t, m.err) {
		assert.Contains(t, m.err.Error(), "connection refused")
	}
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, 5.0, h[0])
	assert.Equal(t, float64(historySize+4), h[len(h)-1])
}

func TestNewSnapshot(t *testing.T) {
	report := &engine.Report{
		BloatRatio:     0.6,
		StalenessDays:  3.5,
		TuningEligible: true,
		Alerts: []alerting.Alert{
			{Severity: alerting.SeverityWarning, Rule: alerting.RuleBloatLow, Message: "active ratio low"},
		},
	}

	s := NewSnapshot(sampleDashboard(), report, sampleStats())
	assert.False(t, s.Healthy)
	assert.Equal(t, 12, s.Retrievals)
	assert.Equal(t, 20, s.Outcomes)
	assert.True(t, s.HasSatisfaction)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 6, s.Approved)
	assert.Equal(t, 2, s.Archived)
	assert.True(t, s.HasReport)
	assert.Equal(t, 0.6, s.BloatRatio)
	assert.Len(t, s.Alerts, 1)

	without := NewSnapshot(sampleDashboard(), nil, lesson.Stats{})
	assert.False(t, without.HasReport)
	assert.Zero(t, without.Pending)
}

func TestModel_View_WithSnapshot(t *testing.T) {
	model := newTestModel()
	report := &engine.Report{
		BloatRatio:    0.6,
		StalenessDays: 3.5,
		Alerts: []alerting.Alert{
			{Severity: alerting.SeverityCritical, Rule: alerting.RuleImprovementBelowTarget, Message: "lessons are not improving success"},
		},
	}
	model.snapshot = NewSnapshot(sampleDashboard(), report, sampleStats())
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "lessond Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "CRITICAL")
	assert.Contains(t, view, "Retrieval")
	assert.Contains(t, view, "123.4ms")
	assert.Contains(t, view, "67.0%")
	assert.Contains(t, view, "+10.0pp")
	assert.Contains(t, view, "25.0%")
	assert.Contains(t, view, "3d 12h")
	assert.Contains(t, view, "low relevance")
	assert.Contains(t, view, "raise the similarity threshold")
	assert.Contains(t, view, "lessons are not improving success")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := newTestModel()
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach lessond")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:9191")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	view := newTestModel().View()

	assert.Contains(t, view, "lessond Monitor")
	assert.Contains(t, view, "no retrievals in window")
	assert.Contains(t, view, "no outcomes in window")
	assert.Contains(t, view, "[q]")
}

func TestBadges(t *testing.T) {
	assert.Contains(t, floorBadge(0.7, 0.6), "✓")
	assert.Contains(t, floorBadge(0.5, 0.6), "⚠")
	assert.Contains(t, floorBadge(0.1, 0.6), "✗")
	assert.Contains(t, ceilingBadge(400, 500), "✓")
	assert.Contains(t, ceilingBadge(600, 500), "⚠")
	assert.Contains(t, ceilingBadge(1000, 500), "✗")

	assert.Contains(t, statusBadge(Snapshot{Healthy: true}), "HEALTHY")
	assert.Contains(t, statusBadge(Snapshot{Healthy: false}), "DEGRADED")
	assert.Contains(t, statusBadge(Snapshot{Healthy: true, Alerts: []alerting.Alert{{Severity: alerting.SeverityCritical}}}), "CRITICAL")
}
