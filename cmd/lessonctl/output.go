package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lessond/internal/diagnostics"
	"github.com/fyrsmithlabs/lessond/internal/engine"
	"github.com/fyrsmithlabs/lessond/internal/lesson"
	"github.com/fyrsmithlabs/lessond/internal/monitor"
)

const titleWidth = 48

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func effectiveness(l *lesson.Lesson) string {
	if l.EffectivenessScore == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *l.EffectivenessScore)
}

func printLessons(cmd *cobra.Command, ls []*lesson.Lesson) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, ls)
	}
	if len(ls) == 0 {
		fmt.Fprintln(out, "No lessons.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCLUSTER\tCONF\tEFF\tUSED\tTITLE")
	for _, l := range ls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%d\t%s\n",
			l.ID, l.Type, l.Metadata.WorkflowCluster, l.Metadata.ConfidenceScore,
			effectiveness(l), l.UsageCount, truncate(l.Title, titleWidth))
	}
	return tw.Flush()
}

func printLesson(cmd *cobra.Command, l *lesson.Lesson) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, l)
	}

	fmt.Fprintf(out, "%s  [%s] %s\n", l.ID, l.Status, l.Title)
	fmt.Fprintf(out, "  type:           %s\n", l.Type)
	fmt.Fprintf(out, "  cluster:        %s\n", l.Metadata.WorkflowCluster)
	if len(l.Metadata.DomainTags) > 0 {
		fmt.Fprintf(out, "  tags:           %s\n", strings.Join(l.Metadata.DomainTags, ", "))
	}
	fmt.Fprintf(out, "  confidence:     %.2f\n", l.Metadata.ConfidenceScore)
	fmt.Fprintf(out, "  effectiveness:  %s\n", effectiveness(l))
	fmt.Fprintf(out, "  used:           %d\n", l.UsageCount)
	if l.ReviewedBy != "" {
		fmt.Fprintf(out, "  reviewed by:    %s\n", l.ReviewedBy)
	}
	if l.ReviewNotes != "" {
		fmt.Fprintf(out, "  review notes:   %s\n", l.ReviewNotes)
	}
	if l.Situation != "" {
		fmt.Fprintf(out, "\nWhen: %s\n", l.Situation)
	}
	if l.Recommendation != "" {
		fmt.Fprintf(out, "Do:   %s\n", l.Recommendation)
	}
	if l.Content != "" {
		fmt.Fprintf(out, "\n%s\n", l.Content)
	}
	return nil
}

func printStats(w io.Writer, s lesson.Stats) {
	fmt.Fprintf(w, "Total: %d\n", s.Total)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, st := range lesson.Statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", st, s.ByStatus[st])
	}
	_ = tw.Flush()
	if len(s.ByType) == 0 {
		return
	}
	fmt.Fprintln(w, "Approved by type:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range lesson.Types {
		if n := s.ByType[t]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", t, n)
		}
	}
	_ = tw.Flush()
}

func printDashboard(w io.Writer, d diagnostics.Dashboard) {
	status := "healthy"
	if !d.Diagnosis.Healthy {
		status = "degraded"
	}
	fmt.Fprintf(w, "Status: %s\n", status)

	rel := d.Leading.Relevance
	lat := d.Leading.Latency
	fmt.Fprintf(w, "\nRetrieval (%d events)\n", rel.Events)
	fmt.Fprintf(w, "  relevance     %.2f\n", rel.AvgScore)
	fmt.Fprintf(w, "  precision@3   %s\n", monitor.FormatPercentage(rel.PrecisionAt3))
	fmt.Fprintf(w, "  coverage      %s\n", monitor.FormatPercentage(rel.Coverage))
	fmt.Fprintf(w, "  latency       p50 %s  p95 %s  p99 %s\n",
		monitor.FormatLatency(lat.P50), monitor.FormatLatency(lat.P95), monitor.FormatLatency(lat.P99))

	sr := d.Lagging.SuccessRate
	fmt.Fprintf(w, "\nOutcomes (%d runs)\n", sr.Total)
	fmt.Fprintf(w, "  success       %s (with lessons %s, without %s)\n",
		monitor.FormatPercentage(sr.Overall), monitor.FormatPercentage(sr.WithLessons), monitor.FormatPercentage(sr.WithoutLessons))
	fmt.Fprintf(w, "  improvement   %s\n", monitor.FormatDelta(sr.Improvement))
	fmt.Fprintf(w, "  errors        %.1f%% reduction\n", d.Lagging.ErrorReduction.ReductionPct)
	if sat := d.Lagging.Satisfaction; sat.Responses > 0 {
		fmt.Fprintf(w, "  satisfaction  %.2f (%d responses)\n", sat.Mean, sat.Responses)
	}

	if len(d.Diagnosis.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues")
		for i, issue := range d.Diagnosis.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
			if i < len(d.Diagnosis.Recommendations) {
				fmt.Fprintf(w, "    %s\n", d.Diagnosis.Recommendations[i])
			}
		}
	}
}

func printReport(w io.Writer, r engine.Report) {
	printDashboard(w, r.Dashboard)

	fmt.Fprintln(w, "\nLesson store")
	fmt.Fprintf(w, "  active ratio  %s\n", monitor.FormatPercentage(r.BloatRatio))
	fmt.Fprintf(w, "  staleness     %s\n", monitor.FormatDays(r.StalenessDays))
	fmt.Fprintf(w, "  tuning        %t\n", r.TuningEligible)

	if len(r.Alerts) == 0 {
		fmt.Fprintln(w, "\nNo alerts.")
		return
	}
	fmt.Fprintln(w, "\nAlerts")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, a := range r.Alerts {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", strings.ToUpper(string(a.Severity)), a.Rule, a.Message)
	}
	_ = tw.Flush()
}
