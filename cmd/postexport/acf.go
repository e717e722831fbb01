// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"fmt"

	"github.com/netSkope/postexport/internal/exporter"
	"github.com/netSkope/postexport/internal/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var acfFlags struct {
	blogs string
}

var acfCmd = &cobra.Command{
	Use:   "acf",
	Short: "Export posts and custom fields of each blog",
	Long: `Export the posts, pages and custom post types of each blog together with
their custom field values. Blogs that already have an export file are skipped.

Examples:
  # Export all blogs
  postexport acf

  # Export blogs 3 and 7 only
  postexport acf --blogs=3,7`,
	Args: cobra.NoArgs,
	RunE: runACF,
}

func init() {
	rootCmd.AddCommand(acfCmd)

	acfCmd.Flags().StringVar(&acfFlags.blogs, "blogs", "", "comma-separated blog ids to export")
}

func runACF(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting export",
		zap.String("export_dir", cfg.ExportDir()),
		zap.String("blogs", acfFlags.blogs))

	opts := runner.ExportOptions{
		Blogs:       acfFlags.blogs,
		FilterBlogs: cmd.Flags().Changed("blogs"),
	}
	report, err := runner.Export(cmd.Context(), cfg, opts, logger)
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Export Summary ===\n")
	fmt.Fprintf(out, "Export directory: %s\n", cfg.ExportDir())
	fmt.Fprintf(out, "Blogs processed: %d\n", len(report.Results))
	fmt.Fprintf(out, "Files written: %d\n", report.Count(exporter.StateWritten))
	fmt.Fprintf(out, "Skipped (file exists): %d\n", report.Count(exporter.StateSkippedExists))
	fmt.Fprintf(out, "Skipped (no posts): %d\n", report.Count(exporter.StateSkippedEmpty))
	if n := report.Count(exporter.StateWriteFailed) + report.Count(exporter.StateQueryFailed); n > 0 {
		fmt.Fprintf(out, "Failed: %d (see log)\n", n)
	}
	fmt.Fprintf(out, "Posts exported: %d\n", report.Records())
	for _, res := range report.Results {
		if res.State == exporter.StateWritten {
			fmt.Fprintf(out, "  Success: File %s created (%d posts)\n", res.File, res.Records)
		}
	}
	fmt.Fprintf(out, "======================\n")

	logger.Info("Export completed successfully")
	return nil
}
