// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/netSkope/postexport/internal/sqlgen"
	"go.uber.org/zap"
)

// ACFPluginSlug is the plugin directory of the free build.
const ACFPluginSlug = "advanced-custom-fields"

// acfPluginDirs are the plugin directories that provide custom fields. Add-ons
// such as advanced-custom-fields-font-awesome share the prefix but not the
// directory.
var acfPluginDirs = []string{ACFPluginSlug, ACFPluginSlug + "-pro"}

// ExcludedStatuses are the statuses the host leaves out of an "any" status query.
var ExcludedStatuses = []string{"trash", "auto-draft"}

// integerColumns are the post columns the host exposes as integers on a raw post.
var integerColumns = map[string]bool{
	"ID":          true,
	"post_parent": true,
	"menu_order":  true,
}

// ErrFieldsUnavailable means the custom-field plugin is not active, so no
// record of the tenant can be enriched.
var ErrFieldsUnavailable = fmt.Errorf("custom field plugin (%s) is not active", ACFPluginSlug)

// Tenant scopes queries to one blog of the network.
type Tenant struct {
	ID     int64
	Prefix string
}

// Field is one native column of a post, in table order.
type Field struct {
	Name  string
	Value interface{}
}

// Post is a raw row of a blog's posts table.
type Post struct {
	ID     int64
	Type   string
	Status string
	Fields []Field
}

// WordPress reads tenants, posts and custom fields from a multisite database.
type WordPress struct {
	client       *SQLClient
	base         string
	skipACFCheck bool
	logger       *zap.Logger

	networkACF *bool
	tenantACF  map[int64]bool
}

// NewWordPress returns a reader for the network whose tables use base as prefix.
func NewWordPress(client *SQLClient, base string, skipACFCheck bool, logger *zap.Logger) (*WordPress, error) {
	if err := sqlgen.ValidateIdentifier(base); err != nil {
		return nil, fmt.Errorf("bad table prefix: %w", err)
	}
	return &WordPress{
		client:       client,
		base:         base,
		skipACFCheck: skipACFCheck,
		logger:       logger,
		tenantACF:    make(map[int64]bool),
	}, nil
}

// Tenant returns the handle for a blog id.
func (w *WordPress) Tenant(id int64) (Tenant, error) {
	prefix, err := sqlgen.TablePrefix(w.base, id)
	if err != nil {
		return Tenant{}, err
	}
	return Tenant{ID: id, Prefix: prefix}, nil
}

// ListTenants returns the network's blogs in ascending id order. A non-empty
// ids limits the result to those blogs; unknown ids are simply absent.
func (w *WordPress) ListTenants(ctx context.Context, ids []int64) ([]Tenant, error) {
	q, err := sqlgen.ListBlogs(w.base, ids)
	if err != nil {
		return nil, err
	}

	ctx, cancel := w.client.context(ctx)
	defer cancel()

	rows, err := w.client.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blog id: %w", err)
		}
		t, err := w.Tenant(id)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tenants, nil
}

// QueryPosts returns every post of the given types in any status except the
// excluded ones, newest first.
func (w *WordPress) QueryPosts(ctx context.Context, t Tenant, types []string) ([]Post, error) {
	q, err := sqlgen.Posts(t.Prefix, types, ExcludedStatuses)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("Querying posts",
		zap.Int64("blog_id", t.ID),
		zap.String("query", q.SQL))

	ctx, cancel := w.client.context(ctx)
	defer cancel()

	rows, err := w.client.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var posts []Post
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}

		post, err := newPost(columns, values)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return posts, nil
}

func newPost(columns []string, values []sql.NullString) (Post, error) {
	post := Post{Fields: make([]Field, 0, len(columns)+1)}

	for i, name := range columns {
		var value interface{}
		if values[i].Valid {
			value = values[i].String
			if integerColumns[name] {
				n, err := strconv.ParseInt(values[i].String, 10, 64)
				if err != nil {
					return Post{}, fmt.Errorf("column %s: %w", name, err)
				}
				value = n
			}
		}

		switch name {
		case "ID":
			if n, ok := value.(int64); ok {
				post.ID = n
			}
		case "post_type":
			post.Type = values[i].String
		case "post_status":
			post.Status = values[i].String
		}

		post.Fields = append(post.Fields, Field{Name: name, Value: value})
	}

	// Raw posts handed out by the host carry their sanitize filter.
	post.Fields = append(post.Fields, Field{Name: "filter", Value: "raw"})
	return post, nil
}

// GetFields returns the custom fields of one post. A field is a meta key
// whose underscore-prefixed sibling references a field definition
// ("_name" = "field_..."). Posts without fields yield an empty map.
func (w *WordPress) GetFields(ctx context.Context, t Tenant, postID int64) (map[string]interface{}, error) {
	ok, err := w.fieldsAvailable(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("blog %d: %w", t.ID, ErrFieldsUnavailable)
	}

	q, err := sqlgen.PostMeta(t.Prefix, postID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := w.client.context(ctx)
	defer cancel()

	rows, err := w.client.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query postmeta: %w", err)
	}
	defer rows.Close()

	values := make(map[string]interface{})
	refs := make(map[string]bool)
	for rows.Next() {
		var key, value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan postmeta: %w", err)
		}
		if !key.Valid {
			continue
		}
		if strings.HasPrefix(key.String, "_") {
			if strings.HasPrefix(value.String, "field_") {
				refs[key.String[1:]] = true
			}
			continue
		}
		if _, seen := values[key.String]; seen {
			continue
		}
		if value.Valid {
			values[key.String] = value.String
		} else {
			values[key.String] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	fields := make(map[string]interface{}, len(refs))
	for name := range refs {
		if v, ok := values[name]; ok {
			fields[name] = v
		}
	}
	return fields, nil
}

// fieldsAvailable reports whether the custom-field plugin is active for the
// tenant, either network-wide or on the blog itself. Answers are cached.
func (w *WordPress) fieldsAvailable(ctx context.Context, t Tenant) (bool, error) {
	if w.skipACFCheck {
		return true, nil
	}

	if w.networkACF == nil {
		q, err := sqlgen.SiteMeta(w.base, "active_sitewide_plugins")
		if err != nil {
			return false, err
		}
		value, err := w.scalar(ctx, q)
		if err != nil {
			return false, fmt.Errorf("read network plugins: %w", err)
		}
		active := acfActive(value)
		w.networkACF = &active
	}
	if *w.networkACF {
		return true, nil
	}

	if active, ok := w.tenantACF[t.ID]; ok {
		return active, nil
	}

	q, err := sqlgen.Option(t.Prefix, "active_plugins")
	if err != nil {
		return false, err
	}
	value, err := w.scalar(ctx, q)
	if err != nil {
		return false, fmt.Errorf("read blog %d plugins: %w", t.ID, err)
	}
	active := acfActive(value)
	w.tenantACF[t.ID] = active

	w.logger.Debug("Checked custom field plugin",
		zap.Int64("blog_id", t.ID),
		zap.Bool("active", active))

	return active, nil
}

// acfActive reports whether a serialized plugin list names the plugin file
// of the free or pro build. Entries are stored as "<dir>/<file>.php".
func acfActive(plugins string) bool {
	for _, dir := range acfPluginDirs {
		if strings.Contains(plugins, `"`+dir+`/`) {
			return true
		}
	}
	return false
}

// scalar returns the single string column of the first row, or "" when no row matches.
func (w *WordPress) scalar(ctx context.Context, q sqlgen.Query) (string, error) {
	ctx, cancel := w.client.context(ctx)
	defer cancel()

	var value sql.NullString
	err := w.client.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}
