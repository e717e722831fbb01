// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/netSkope/postexport/internal/config"
	fislog "github.com/netSkope/postexport/internal/log"
	"github.com/netSkope/postexport/internal/runner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const logName = "postexport"

// Global flags
var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "postexport",
	Short: "Export WordPress network posts and custom fields to JSON",
	Long: `postexport walks the blogs of a WordPress multisite network and writes
the posts, pages and custom post types of each blog, together with their
custom field values, to <content_dir>/exports/blog_<id>_postdata.json.

Blogs that already have an export file are left alone; run purge to start over.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", config.DefaultConfigFile, "config file path")
	pf.StringVar(&flags.DBHost, "db-host", "", "WordPress database host")
	pf.IntVar(&flags.DBPort, "db-port", 0, "WordPress database port (default 3306)")
	pf.StringVar(&flags.DBUser, "db-user", "", "WordPress database user")
	pf.StringVar(&flags.DBPassword, "db-password", "", "WordPress database password")
	pf.StringVar(&flags.DBAuth, "db-auth", "", "JSON file with database user and password")
	pf.StringVar(&flags.DBName, "db-name", "", "WordPress database name (default wordpress)")
	pf.StringVar(&flags.TablePrefix, "table-prefix", "", "WordPress table prefix (default wp_)")
	pf.StringVar(&flags.DBSecret, "db-secret", "", "AWS Secrets Manager secret holding the database password")
	pf.StringVar(&flags.DBSecretRegion, "db-secret-region", "", "AWS region of the database secret")
	pf.IntVar(&flags.DBTimeout, "db-timeout", 0, "per-query timeout in seconds (default 30)")
	pf.BoolVar(&flags.SkipACFCheck, "skip-acf-check", false, "do not require the custom fields plugin to be listed as active")
	pf.StringVar(&flags.LogDir, "log-dir", "", "log directory (default /tmp)")
	pf.BoolVar(&flags.Debug, "debug", false, "debug logging")
	pf.BoolVar(&flags.LogStdout, "log-stdout", false, "log to stdout instead of a file")
}

// setup loads and validates the configuration and builds the run logger.
func setup(needDB bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(&flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(needDB); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := fislog.NewLogger(cfg.LogDir, logName, cfg.Debug, cfg.LogStdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, runner.WithRunID(logger), nil
}
