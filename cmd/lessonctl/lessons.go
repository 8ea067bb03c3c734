package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lessond/internal/lesson"
)

var (
	listCluster string
	listTags    []string
	listLimit   int

	reviewer    string
	reviewNotes string
	rejectWhy   string
)

func init() {
	lessonsCmd.AddCommand(lessonsListCmd, lessonsPendingCmd, lessonsGetCmd, lessonsStatsCmd,
		lessonsApproveCmd, lessonsRejectCmd, lessonsFeedbackCmd)

	lessonsListCmd.Flags().StringVar(&listCluster, "cluster", "", "only lessons in this workflow cluster")
	lessonsListCmd.Flags().StringSliceVar(&listTags, "tags", nil, "only lessons sharing a domain tag")
	lessonsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum lessons to return")

	for _, c := range []*cobra.Command{lessonsApproveCmd, lessonsRejectCmd} {
		c.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name (required)")
		_ = c.MarkFlagRequired("reviewer")
	}
	lessonsApproveCmd.Flags().StringVar(&reviewNotes, "notes", "", "review notes")
	lessonsRejectCmd.Flags().StringVar(&rejectWhy, "reason", "", "rejection reason (required)")
	_ = lessonsRejectCmd.MarkFlagRequired("reason")
}

// lessonsCmd is the parent command for lesson review operations
var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List, review and score lessons",
}

var lessonsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approved lessons",
	Long: `List approved lessons, most effective first.

Examples:
  lessonctl lessons list
  lessonctl lessons list --cluster code --tags go,testing --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if listLimit < 0 {
			return fmt.Errorf("limit must not be negative")
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		ls, err := newClient().ListApproved(ctx, lesson.ListOptions{Cluster: listCluster, Tags: listTags, Limit: listLimit})
		if err != nil {
			return err
		}
		return printLessons(cmd, ls)
	},
}

var lessonsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List lessons awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		ls, err := newClient().Pending(ctx)
		if err != nil {
			return err
		}
		return printLessons(cmd, ls)
	},
}

var lessonsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		l, err := newClient().Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printLesson(cmd, l)
	},
}

var lessonsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count lessons by status and type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		s, err := newClient().Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printStats(cmd.OutOrStdout(), s)
		return nil
	},
}

var lessonsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a proposed lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		l, err := newClient().Approve(ctx, args[0], reviewer, reviewNotes)
		if err != nil {
			return err
		}
		return printLesson(cmd, l)
	},
}

var lessonsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a proposed lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		l, err := newClient().Reject(ctx, args[0], reviewer, rejectWhy)
		if err != nil {
			return err
		}
		return printLesson(cmd, l)
	},
}

var lessonsFeedbackCmd = &cobra.Command{
	Use:   "feedback <id> <effectiveness>",
	Short: "Record an effectiveness score between 0 and 1",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eff, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
		if err != nil {
			return fmt.Errorf("invalid effectiveness %q: %w", args[1], err)
		}
		if eff < 0 || eff > 1 {
			return fmt.Errorf("effectiveness %.2f outside [0,1]", eff)
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()

		l, err := newClient().Feedback(ctx, args[0], eff)
		if err != nil {
			return err
		}
		return printLesson(cmd, l)
	},
}
