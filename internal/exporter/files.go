// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FilePattern matches every export file, whatever the blog id.
const FilePattern = "blog_*_postdata.json"

// FileName returns the export file name for a blog.
func FileName(blogID int64) string {
	return fmt.Sprintf("blog_%d_postdata.json", blogID)
}

// FilePath returns the export file path for a blog.
func FilePath(exportDir string, blogID int64) string {
	return filepath.Join(exportDir, FileName(blogID))
}

// EnsureExportDir creates the export directory if it is missing.
func EnsureExportDir(exportDir string, logger *zap.Logger) error {
	if _, err := os.Stat(exportDir); err == nil {
		return nil
	}
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	logger.Debug("Export directory created", zap.String("dir", exportDir))
	return nil
}

// Purge removes every export file from the export directory and returns how
// many were removed. A missing or empty directory is not an error. Files that
// cannot be removed are logged and reported together once all were tried.
func Purge(exportDir string, logger *zap.Logger) (int, error) {
	matches, err := filepath.Glob(filepath.Join(exportDir, FilePattern))
	if err != nil {
		return 0, fmt.Errorf("failed to list export files: %w", err)
	}

	removed := 0
	var errs []error
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logger.Warn("Failed to remove export file",
				zap.String("path", path),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		removed++
		logger.Debug("Removed export file", zap.String("path", path))
	}

	logger.Info("Purge finished",
		zap.String("dir", exportDir),
		zap.Int("removed", removed))

	return removed, errors.Join(errs...)
}
