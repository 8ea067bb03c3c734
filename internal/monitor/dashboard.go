package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/lessond/internal/alerting"
	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxAlertsShown  = 5
)

// Model is the BubbleTea lesson health dashboard.
type Model struct {
	client     *Client
	interval   time.Duration
	thresholds diagnostics.Thresholds
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	activeProgress   progress.Model
	coverageProgress progress.Model
}

// Snapshot is one poll of the dashboard, report and lesson stats.
type Snapshot struct {
	Healthy         bool
	Issues          []string
	Recommendations []string

	Relevance    float64
	PrecisionAt3 float64
	Coverage     float64
	LatencyP95   float64
	Retrievals   int

	Improvement       float64
	SuccessRate       float64
	ErrorReductionPct float64
	Satisfaction      float64
	HasSatisfaction   bool
	Outcomes          int

	Pending  int
	Approved int
	Archived int
	Total    int

	// Report fields are zero until the daemon's first evaluation.
	HasReport      bool
	BloatRatio     float64
	StalenessDays  float64
	TuningEligible bool
	Alerts         []alerting.Alert

	RelevanceHistory   []float64
	LatencyHistory     []float64
	ImprovementHistory []float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:     client,
		interval:   interval,
		thresholds: diagnostics.DefaultThresholds,
		activeProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		coverageProgress: progress.New(
			progress.WithGradient("#ffff00", "#00ffff"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			RelevanceHistory:   make([]float64, 0, historySize),
			LatencyHistory:     make([]float64, 0, historySize),
			ImprovementHistory: make([]float64, 0, historySize),
		},
	}
}

// floorBadge marks a value that must stay at or above min.
func floorBadge(v, min float64) string {
	switch {
	case v >= min:
		return healthyStyle.Render("[✓]")
	case v >= min*0.8:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// ceilingBadge marks a value that must stay at or below max.
func ceilingBadge(v, max float64) string {
	switch {
	case v <= max:
		return healthyStyle.Render("[✓]")
	case v <= max*1.5:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

func statusBadge(s Snapshot) string {
	switch {
	case hasSeverity(s.Alerts, alerting.SeverityCritical):
		return errorStyle.Render("✗ CRITICAL")
	case !s.Healthy || len(s.Alerts) > 0:
		return warningStyle.Render("⚠ DEGRADED")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

func hasSeverity(alerts []alerting.Alert, sev alerting.Severity) bool {
	for _, a := range alerts {
		if a.Severity == sev {
			return true
		}
	}
	return false
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// NewSnapshot flattens the API responses into the fields the view renders.
// report may be nil before the first evaluation.
func NewSnapshot(d diagnostics.Dashboard, report *engine.Report, stats lesson.Stats) Snapshot {
	rel := d.Leading.Relevance
	lag := d.Lagging
	s := Snapshot{
		Healthy:         d.Diagnosis.Healthy,
		Issues:          d.Diagnosis.Issues,
		Recommendations: d.Diagnosis.Recommendations,

		Relevance:    rel.AvgScore,
		PrecisionAt3: rel.PrecisionAt3,
		Coverage:     rel.Coverage,
		LatencyP95:   d.Leading.Latency.P95,
		Retrievals:   rel.Events,

		Improvement:       lag.SuccessRate.Improvement,
		SuccessRate:       lag.SuccessRate.Overall,
		ErrorReductionPct: lag.ErrorReduction.ReductionPct,
		Satisfaction:      lag.Satisfaction.Mean,
		HasSatisfaction:   lag.Satisfaction.Responses > 0,
		Outcomes:          lag.SuccessRate.Total,

		Pending:  stats.ByStatus[lesson.StatusProposed],
		Approved: stats.ByStatus[lesson.StatusApproved],
		Archived: stats.ByStatus[lesson.StatusArchived],
		Total:    stats.Total,
	}
	if report != nil {
		s.HasReport = true
		s.BloatRatio = report.BloatRatio
		s.StalenessDays = report.StalenessDays
		s.TuningEligible = report.TuningEligible
		s.Alerts = report.Alerts
	}
	return s
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		dash, err := client.Dashboard(ctx)
		if err != nil {
			return errMsg(err)
		}
		stats, err := client.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		report, ok, err := client.Report(ctx)
		if err != nil {
			return errMsg(err)
		}

		var rp *engine.Report
		if ok {
			rp = &report
		}
		return snapshotMsg(NewSnapshot(dash, rp, stats))
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client),
		)

	case snapshotMsg:
		next := Snapshot(msg)

		// Idle windows carry no signal; keep the trend lines flat.
		next.RelevanceHistory = m.snapshot.RelevanceHistory
		next.LatencyHistory = m.snapshot.LatencyHistory
		if next.Retrievals > 0 {
			next.RelevanceHistory = appendToHistory(next.RelevanceHistory, next.Relevance)
			next.LatencyHistory = appendToHistory(next.LatencyHistory, next.LatencyP95)
		}
		next.ImprovementHistory = m.snapshot.ImprovementHistory
		if next.Outcomes > 0 {
			next.ImprovementHistory = appendToHistory(next.ImprovementHistory, next.Improvement)
		}

		m.snapshot = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("lessond Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach lessond") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Check that the daemon is running and --server points at it.") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	s := m.snapshot
	th := m.thresholds
	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" lessond Monitor ") + "\n")
	fmt.Fprintf(&b, "%s   %s\n", statusBadge(s), dimStyle.Render(lastUpdateStr))

	b.WriteString("\n" + sectionStyle.Render("┃ Retrieval") + "\n")
	if s.Retrievals == 0 {
		b.WriteString(dimStyle.Render("  no retrievals in window") + "\n")
	} else {
		b.WriteString(labelStyle.Render("  Relevance: ") +
			valueStyle.Render(fmt.Sprintf("%.2f", s.Relevance)) +
			" " + floorBadge(s.Relevance, th.MinRelevance) +
			"   " + createSparkline(s.RelevanceHistory) + "\n")
		b.WriteString(labelStyle.Render("  Latency (p95): ") +
			valueStyle.Render(FormatLatency(s.LatencyP95)) +
			" " + ceilingBadge(s.LatencyP95, th.MaxP95LatencyMS) +
			"   " + createSparkline(s.LatencyHistory) + "\n")
		b.WriteString(labelStyle.Render("  Precision@3: ") +
			valueStyle.Render(FormatPercentage(s.PrecisionAt3)) +
			dimStyle.Render(fmt.Sprintf("   %d events", s.Retrievals)) + "\n")
		b.WriteString(labelStyle.Render("  Coverage: ") +
			m.coverageProgress.ViewAs(clamp01(s.Coverage)) +
			" " + floorBadge(s.Coverage, th.MinCoverage) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Outcomes") + "\n")
	if s.Outcomes == 0 {
		b.WriteString(dimStyle.Render("  no outcomes in window") + "\n")
	} else {
		b.WriteString(labelStyle.Render("  Improvement: ") +
			valueStyle.Render(FormatDelta(s.Improvement)) +
			"   " + createSparkline(s.ImprovementHistory) + "\n")
		b.WriteString(labelStyle.Render("  Success: ") +
			valueStyle.Render(FormatPercentage(s.SuccessRate)) +
			"  " + labelStyle.Render("Error reduction: ") +
			valueStyle.Render(fmt.Sprintf("%.1f%%", s.ErrorReductionPct)) +
			dimStyle.Render(fmt.Sprintf("   %d runs", s.Outcomes)) + "\n")
		if s.HasSatisfaction {
			b.WriteString(labelStyle.Render("  Satisfaction: ") +
				valueStyle.Render(fmt.Sprintf("%.2f", s.Satisfaction)) + "\n")
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Lessons") + "\n")
	fmt.Fprintf(&b, "%s%s  %s%s  %s%s  %s%s\n",
		labelStyle.Render("  Approved: "), valueStyle.Render(fmt.Sprint(s.Approved)),
		labelStyle.Render("Pending: "), valueStyle.Render(fmt.Sprint(s.Pending)),
		labelStyle.Render("Archived: "), valueStyle.Render(fmt.Sprint(s.Archived)),
		labelStyle.Render("Total: "), valueStyle.Render(fmt.Sprint(s.Total)))
	if s.HasReport {
		b.WriteString(labelStyle.Render("  Active: ") +
			m.activeProgress.ViewAs(clamp01(s.BloatRatio)) +
			" " + dimStyle.Render(FormatPercentage(s.BloatRatio)) + "\n")
		b.WriteString(labelStyle.Render("  Staleness: ") +
			valueStyle.Render(FormatDays(s.StalenessDays)) +
			dimStyle.Render(" since last use") + "\n")
		if s.TuningEligible {
			b.WriteString(labelStyle.Render("  Tuning: ") + healthyStyle.Render("eligible") + "\n")
		}
	}

	if len(s.Issues) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Diagnosis") + "\n")
		for i, issue := range s.Issues {
			b.WriteString("  " + warningStyle.Render("• "+issue) + "\n")
			if i < len(s.Recommendations) {
				b.WriteString("    " + dimStyle.Render(s.Recommendations[i]) + "\n")
			}
		}
	}

	if len(s.Alerts) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Alerts") + "\n")
		for i, a := range s.Alerts {
			if i == maxAlertsShown {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(s.Alerts)-maxAlertsShown)) + "\n")
				break
			}
			style := warningStyle
			if a.Severity == alerting.SeverityCritical {
				style = errorStyle
			}
			b.WriteString("  " + style.Render(strings.ToUpper(string(a.Severity))) + " " + valueStyle.Render(a.Message) + "\n")
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
