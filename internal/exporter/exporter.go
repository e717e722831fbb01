// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/netSkope/postexport/internal/store"
	"go.uber.org/zap"
)

var ErrInvalidRecord = fmt.Errorf("invalid post")

// TenantDirectory lists the blogs of the network.
type TenantDirectory interface {
	ListTenants(ctx context.Context, ids []int64) ([]store.Tenant, error)
}

// PostSource returns the posts of one blog.
type PostSource interface {
	QueryPosts(ctx context.Context, t store.Tenant, types []string) ([]store.Post, error)
}

// FieldSource returns the custom fields of one post. It returns an error
// wrapping store.ErrFieldsUnavailable when the plugin is not active; any
// error stops the run.
type FieldSource interface {
	GetFields(ctx context.Context, t store.Tenant, postID int64) (map[string]interface{}, error)
}

// Source is everything the exporter reads from the host. *store.WordPress implements it.
type Source interface {
	TenantDirectory
	PostSource
	FieldSource
}

// Exporter writes one JSON file per blog into the export directory.
type Exporter struct {
	source    Source
	exportDir string
	logger    *zap.Logger
}

// NewExporter creates a new blog exporter.
func NewExporter(source Source, exportDir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		source:    source,
		exportDir: exportDir,
		logger:    logger,
	}
}

// ExportAll exports every selected blog that has no export file yet. A nil
// filter selects all blogs. A failed blog listing, a failed custom field
// read or a cancelled context stops the run; the report covers the blogs
// processed so far.
func (e *Exporter) ExportAll(ctx context.Context, filter []int64) (*Report, error) {
	if err := EnsureExportDir(e.exportDir, e.logger); err != nil {
		return nil, err
	}

	tenants, err := SelectTenants(ctx, e.source, filter, e.logger)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Blogs selected",
		zap.Int("count", len(tenants)),
		zap.Bool("filtered", filter != nil))

	report := &Report{}
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := e.ExportTenant(ctx, t)
		report.Results = append(report.Results, res)
		if err != nil {
			return report, err
		}
	}

	e.logger.Info("Export finished",
		zap.Int("blogs", len(report.Results)),
		zap.Int("written", report.Count(StateWritten)),
		zap.Int("records", report.Records()))

	return report, nil
}

// ExportTenant produces at most one export file for the blog. The returned
// error is non-nil only for conditions that must stop the whole run.
func (e *Exporter) ExportTenant(ctx context.Context, t store.Tenant) (TenantResult, error) {
	fileName := FileName(t.ID)
	filePath := FilePath(e.exportDir, t.ID)
	res := TenantResult{BlogID: t.ID, State: StatePending, File: filePath}

	if fileExists(filePath) {
		e.logger.Debug("Export file already exists, skipping blog",
			zap.String("file", fileName),
			zap.Int64("blog_id", t.ID))
		res.State = StateSkippedExists
		return res, nil
	}

	e.logger.Info("Switching to blog", zap.Int64("blog_id", t.ID))

	posts, err := e.source.QueryPosts(ctx, t, PostTypes)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.logger.Warn("Failed to query posts, skipping blog",
			zap.Int64("blog_id", t.ID),
			zap.Error(err))
		res.State = StateQueryFailed
		return res, nil
	}

	if len(posts) == 0 {
		e.logger.Warn("Blog has no posts, skipping", zap.Int64("blog_id", t.ID))
		res.State = StateSkippedEmpty
		return res, nil
	}

	e.logger.Info("Fetching posts",
		zap.Int64("blog_id", t.ID),
		zap.Int("posts", len(posts)))

	summary := NewSummary()
	entries := make([]Entry, 0, len(posts))
	for _, post := range posts {
		entry, err := e.Transform(ctx, t, post)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Only invalid posts are skipped; a failed field read stops the run.
			if !errors.Is(err, ErrInvalidRecord) {
				e.logger.Error("Failed to read custom fields, aborting",
					zap.Int64("blog_id", t.ID),
					zap.Int64("post_id", post.ID),
					zap.Error(err))
				return res, fmt.Errorf("post %d: %w", post.ID, err)
			}
			e.logger.Warn("Skipping invalid post",
				zap.Int64("blog_id", t.ID),
				zap.Int64("post_id", post.ID),
				zap.Error(err))
			res.Skipped++
			continue
		}
		entries = append(entries, entry)
		summary.Record(post.Type)
	}

	e.logger.Debug("Posts fetched",
		zap.Int64("blog_id", t.ID),
		zap.Int("records", len(entries)),
		zap.Int("skipped", res.Skipped))

	doc := &ExportFile{
		Blog:     t.ID,
		Summary:  summary,
		PostData: entries,
	}

	if err := writeFile(filePath, doc); err != nil {
		e.logger.Warn("Failed to create file",
			zap.String("file", fileName),
			zap.Int64("blog_id", t.ID),
			zap.Error(err))
		res.State = StateWriteFailed
		return res, nil
	}

	// Confirm the file landed.
	if !fileExists(filePath) {
		e.logger.Warn("Failed to create file",
			zap.String("file", fileName),
			zap.Int64("blog_id", t.ID))
		res.State = StateWriteFailed
		return res, nil
	}

	e.logger.Info("File created",
		zap.String("file", fileName),
		zap.String("path", filePath),
		zap.Int64("blog_id", t.ID),
		zap.Int("records", len(entries)))

	res.State = StateWritten
	res.Records = len(entries)
	return res, nil
}

// Transform attaches the custom fields to a post. Posts without an id or
// without columns are rejected with ErrInvalidRecord; any other error means
// the fields could not be read.
func (e *Exporter) Transform(ctx context.Context, t store.Tenant, post store.Post) (Entry, error) {
	if post.ID <= 0 || len(post.Fields) == 0 {
		return Entry{}, fmt.Errorf("%w: id %d", ErrInvalidRecord, post.ID)
	}

	fields, err := e.source.GetFields(ctx, t, post.ID)
	if err != nil {
		return Entry{}, err
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	return Entry{Post: post, Fields: fields}, nil
}

// writeFile writes the document to a temp file next to path and renames it
// into place, so a crash never leaves a half-written export behind.
func writeFile(path string, doc *ExportFile) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err = enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err = tmp.Chmod(0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
