// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package sqlgen builds the read-only SQL statements issued against a
// WordPress multisite schema. Table names cannot be bound as parameters, so
// every identifier is validated before it is interpolated.
package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// MainSiteID is the blog whose tables carry the bare base prefix.
const MainSiteID = 1

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var ErrBadIdentifier = fmt.Errorf("invalid SQL identifier")

// Query is a statement together with its bind arguments.
type Query struct {
	SQL  string
	Args []interface{}
}

// ValidateIdentifier reports whether s can be interpolated as a table name or prefix.
func ValidateIdentifier(s string) error {
	if !identPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, s)
	}
	return nil
}

// TablePrefix returns the table prefix for a blog: the base prefix for the
// main site and "<base><id>_" for every other blog.
func TablePrefix(base string, blogID int64) (string, error) {
	if err := ValidateIdentifier(base); err != nil {
		return "", err
	}
	if blogID <= 0 {
		return "", fmt.Errorf("blog id must be positive, got %d", blogID)
	}
	if blogID == MainSiteID {
		return base, nil
	}
	return fmt.Sprintf("%s%d_", base, blogID), nil
}

// Table joins a prefix and a table name after validating both.
func Table(prefix, name string) (string, error) {
	table := prefix + name
	if err := ValidateIdentifier(table); err != nil {
		return "", err
	}
	return table, nil
}

// Placeholders returns n comma-separated bind markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ListBlogs selects blog ids from the network's blogs table in ascending id
// order. A non-empty ids restricts the result to those blogs.
func ListBlogs(base string, ids []int64) (Query, error) {
	table, err := Table(base, "blogs")
	if err != nil {
		return Query{}, err
	}

	q := Query{SQL: fmt.Sprintf("SELECT blog_id FROM %s", table)}
	if len(ids) > 0 {
		q.SQL += fmt.Sprintf(" WHERE blog_id IN (%s)", Placeholders(len(ids)))
		for _, id := range ids {
			q.Args = append(q.Args, id)
		}
	}
	q.SQL += " ORDER BY blog_id"
	return q, nil
}

// Posts selects every column of a blog's posts table for the given types,
// leaving out the excluded statuses. Newest first, as the host lists posts.
func Posts(prefix string, types, excludedStatuses []string) (Query, error) {
	if len(types) == 0 {
		return Query{}, fmt.Errorf("at least one post type is required")
	}
	table, err := Table(prefix, "posts")
	if err != nil {
		return Query{}, err
	}

	q := Query{SQL: fmt.Sprintf("SELECT * FROM %s WHERE post_type IN (%s)", table, Placeholders(len(types)))}
	for _, t := range types {
		q.Args = append(q.Args, t)
	}
	if len(excludedStatuses) > 0 {
		q.SQL += fmt.Sprintf(" AND post_status NOT IN (%s)", Placeholders(len(excludedStatuses)))
		for _, s := range excludedStatuses {
			q.Args = append(q.Args, s)
		}
	}
	q.SQL += " ORDER BY post_date DESC, ID DESC"
	return q, nil
}

// PostMeta selects all meta rows of one post in insertion order.
func PostMeta(prefix string, postID int64) (Query, error) {
	table, err := Table(prefix, "postmeta")
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT meta_key, meta_value FROM %s WHERE post_id = ? ORDER BY meta_id", table),
		Args: []interface{}{postID},
	}, nil
}

// Option selects one row of a blog's options table.
func Option(prefix, name string) (Query, error) {
	table, err := Table(prefix, "options")
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT option_value FROM %s WHERE option_name = ? LIMIT 1", table),
		Args: []interface{}{name},
	}, nil
}

// SiteMeta selects one network-wide meta value.
func SiteMeta(base, key string) (Query, error) {
	table, err := Table(base, "sitemeta")
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  fmt.Sprintf("SELECT meta_value FROM %s WHERE meta_key = ? ORDER BY meta_id LIMIT 1", table),
		Args: []interface{}{key},
	}, nil
}
