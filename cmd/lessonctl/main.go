// Package main implements lessonctl, the operator CLI for a running lessond.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/lessond/internal/monitor"
)

var (
	// serverURL is the base URL for the lessond HTTP server
	serverURL string
	// jsonOutput prints raw API responses instead of tables
	jsonOutput bool
	timeout    time.Duration
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lessonctl",
	Short: "CLI for lessond lesson review and diagnostics",
	Long: `lessonctl talks to a running lessond over HTTP. It reviews proposed
lessons, records effectiveness feedback and shows the health of the
lesson feedback loop.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "lessond server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	monitorCmd.Flags().Duration("interval", 5*time.Second, "refresh interval")

	rootCmd.AddCommand(healthCmd, dashboardCmd, reportCmd, policyCmd, monitorCmd, lessonsCmd)
}

func newClient() *monitor.Client {
	return monitor.NewClient(serverURL)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check lessond health",
	Long: `Check the health of lessond and its dependencies.

Examples:
  lessonctl health
  lessonctl health --server http://lessond.internal:9191`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	h, err := newClient().Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, h)
	}

	fmt.Fprintf(out, "Server Status: %s\n", h.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	for _, name := range sortedKeys(h.Checks) {
		fmt.Fprintf(out, "  %-10s %s\n", name, h.Checks[name])
	}
	if h.Status != "ok" {
		return fmt.Errorf("server is %s", h.Status)
	}
	return nil
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the current diagnosis and indicators",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		d, err := newClient().Dashboard(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), d)
		}
		printDashboard(cmd.OutOrStdout(), d)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the last evaluation report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		r, ok, err := newClient().Report(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No evaluation has completed yet.")
			return nil
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r)
		}
		printReport(cmd.OutOrStdout(), r)
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the active policy as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		p, err := newClient().Policy(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(p)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard",
	Long: `Open a live dashboard of retrieval quality, outcomes, lesson counts
and alerts. Press r to refresh and q to quit.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		interval, err := cmd.Flags().GetDuration("interval")
		if err != nil {
			return err
		}
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		model := monitor.NewModel(newClient(), interval)
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}
