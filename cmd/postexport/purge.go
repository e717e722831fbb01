// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"fmt"

	"github.com/netSkope/postexport/internal/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all export files",
	Long: `Remove every blog_<id>_postdata.json file from the export directory.
Other files are left in place. An empty or missing directory is not an error.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	removed, err := runner.Purge(cfg, logger)
	if err != nil {
		logger.Error("Purge failed", zap.Int("removed", removed), zap.Error(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Success: removed %d export files from %s\n", removed, cfg.ExportDir())
	return nil
}
