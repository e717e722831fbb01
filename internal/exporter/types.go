// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/netSkope/postexport/internal/store"
)

// PostTypes are the content types exported for every blog.
var PostTypes = []string{
	"post",
	"page",
	// custom post types
	"faculty-staff",
	"majors-minors",
}

// FieldsKey is the key the custom fields are stored under in each exported post.
const FieldsKey = "acf_fields"

// State is the outcome of exporting one blog.
type State int

const (
	StatePending State = iota
	StateSkippedExists
	StateSkippedEmpty
	StateWritten
	StateWriteFailed
	StateQueryFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSkippedExists:
		return "skipped_exists"
	case StateSkippedEmpty:
		return "skipped_empty"
	case StateWritten:
		return "written"
	case StateWriteFailed:
		return "write_failed"
	case StateQueryFailed:
		return "query_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TenantResult records what happened to one blog during a run.
type TenantResult struct {
	BlogID  int64
	State   State
	File    string
	Records int // posts written to the file
	Skipped int // posts excluded as invalid
}

// Report collects the per-blog results of one run, in processing order.
type Report struct {
	Results []TenantResult
}

// Count returns how many blogs ended in the given state.
func (r *Report) Count(state State) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// Records returns the number of posts written across all blogs.
func (r *Report) Records() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		n += res.Records
	}
	return n
}

// Entry is one exported post: its native columns in table order followed by
// the custom fields.
type Entry struct {
	Post   store.Post
	Fields map[string]interface{}
}

// MarshalJSON keeps the native column order of the post.
func (e Entry) MarshalJSON() ([]byte, error) {
	fields := e.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range e.Post.Fields {
		if err := writeMember(&buf, f.Name, f.Value); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writeMember(&buf, FieldsKey, fields); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ExportFile is the document written for one blog.
type ExportFile struct {
	Blog     int64    `json:"blog"`
	Summary  *Summary `json:"summary"`
	PostData []Entry  `json:"post_data"`
}

func writeMember(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := marshal(key)
	if err != nil {
		return err
	}
	v, err := marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// marshal encodes v without HTML escaping, matching the file encoder.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
