// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/netSkope/postexport/internal/store"
	"go.uber.org/zap"
)

var ErrInvalidTenantID = fmt.Errorf("invalid blog ID")

// ParseTenantFilter parses a comma-separated list of blog ids. Any token that
// is not a positive integer fails the whole list. Order and duplicates are kept.
func ParseTenantFilter(raw string) ([]int64, error) {
	tokens := strings.Split(raw, ",")
	ids := make([]int64, 0, len(tokens))
	for _, token := range tokens {
		id, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTenantID, token)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SelectTenants returns the blogs to process. A nil filter selects every blog
// in directory order; otherwise the filter order is kept, duplicates included,
// and ids the directory does not know are dropped.
func SelectTenants(ctx context.Context, dir TenantDirectory, filter []int64, logger *zap.Logger) ([]store.Tenant, error) {
	tenants, err := dir.ListTenants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list blogs: %w", err)
	}
	if filter == nil {
		return tenants, nil
	}

	known := make(map[int64]store.Tenant, len(tenants))
	for _, t := range tenants {
		known[t.ID] = t
	}

	selected := make([]store.Tenant, 0, len(filter))
	for _, id := range filter {
		t, ok := known[id]
		if !ok {
			logger.Warn("Blog not found, skipping", zap.Int64("blog_id", id))
			continue
		}
		selected = append(selected, t)
	}
	return selected, nil
}
