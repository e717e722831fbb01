// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/netSkope/postexport/internal/config"
	"github.com/netSkope/postexport/internal/exporter"
	"github.com/netSkope/postexport/internal/store"
	"github.com/netSkope/postexport/internal/util"
	"go.uber.org/zap"
)

// ExportOptions are the per-run arguments of the acf command.
type ExportOptions struct {
	// Blogs is the raw comma-separated blog filter. It is only parsed when
	// FilterBlogs is set, so an explicit empty value is rejected.
	Blogs       string
	FilterBlogs bool
}

// WithRunID tags every log entry of one invocation with a fresh run id.
func WithRunID(logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("run_id", uuid.NewString()))
}

// Export runs the acf command: it validates the blog filter, connects to the
// WordPress database and exports every selected blog. The filter is checked
// before anything is created on disk.
func Export(ctx context.Context, cfg *config.Config, opts ExportOptions, logger *zap.Logger) (*exporter.Report, error) {
	var filter []int64
	if opts.FilterBlogs {
		ids, err := exporter.ParseTenantFilter(opts.Blogs)
		if err != nil {
			return nil, err
		}
		filter = ids
	}

	if err := resolvePassword(ctx, cfg, logger); err != nil {
		return nil, err
	}

	client, err := store.NewSQLClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer client.Close()

	logger.Info("Connected to database",
		zap.String("host", cfg.DBAddress()),
		zap.String("database", client.Name()),
		zap.String("table_prefix", cfg.TablePrefix))

	wp, err := store.NewWordPress(client, cfg.TablePrefix, cfg.SkipACFCheck, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create WordPress source: %w", err)
	}

	exp := exporter.NewExporter(wp, cfg.ExportDir(), logger)
	return exp.ExportAll(ctx, filter)
}

// Purge runs the purge command. It never touches the database.
func Purge(cfg *config.Config, logger *zap.Logger) (int, error) {
	logger.Info("Purging export files", zap.String("dir", cfg.ExportDir()))
	return exporter.Purge(cfg.ExportDir(), logger)
}

// resolvePassword fills in the DB password from Secrets Manager when one is
// configured and no password was given directly.
func resolvePassword(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.DBPassword != "" || cfg.DBSecret == "" {
		return nil
	}

	util.LoadAWSCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken)

	pwd, err := util.ResolveDBPassword(ctx, cfg.DBSecret, cfg.DBSecretRegion)
	if err != nil {
		return fmt.Errorf("failed to resolve DB password: %w", err)
	}
	cfg.DBPassword = pwd

	logger.Debug("DB password resolved from secret", zap.String("secret", cfg.DBSecret))
	return nil
}
