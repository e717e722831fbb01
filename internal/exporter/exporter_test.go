// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netSkope/postexport/internal/store"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// fakeSource is an in-memory network of blogs.
type fakeSource struct {
	tenants   []store.Tenant
	posts     map[int64][]store.Post
	fields    map[int64]map[int64]map[string]interface{}
	fieldErrs map[int64]error // by post id
	queryErrs map[int64]error // by blog id
	noACF     map[int64]bool  // blogs without the field plugin

	queried []int64
}

func newFakeSource(ids ...int64) *fakeSource {
	f := &fakeSource{
		posts:     make(map[int64][]store.Post),
		fields:    make(map[int64]map[int64]map[string]interface{}),
		fieldErrs: make(map[int64]error),
		queryErrs: make(map[int64]error),
		noACF:     make(map[int64]bool),
	}
	for _, id := range ids {
		prefix := "wp_"
		if id != 1 {
			prefix = fmt.Sprintf("wp_%d_", id)
		}
		f.tenants = append(f.tenants, store.Tenant{ID: id, Prefix: prefix})
	}
	return f
}

func (f *fakeSource) ListTenants(_ context.Context, ids []int64) ([]store.Tenant, error) {
	if ids == nil {
		return f.tenants, nil
	}
	want := make(map[int64]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []store.Tenant
	for _, t := range f.tenants {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSource) QueryPosts(_ context.Context, t store.Tenant, types []string) ([]store.Post, error) {
	f.queried = append(f.queried, t.ID)
	if err := f.queryErrs[t.ID]; err != nil {
		return nil, err
	}
	return f.posts[t.ID], nil
}

func (f *fakeSource) GetFields(_ context.Context, t store.Tenant, postID int64) (map[string]interface{}, error) {
	if f.noACF[t.ID] {
		return nil, fmt.Errorf("blog %d: %w", t.ID, store.ErrFieldsUnavailable)
	}
	if err := f.fieldErrs[postID]; err != nil {
		return nil, err
	}
	return f.fields[t.ID][postID], nil
}

func (f *fakeSource) setFields(blogID, postID int64, fields map[string]interface{}) {
	if f.fields[blogID] == nil {
		f.fields[blogID] = make(map[int64]map[string]interface{})
	}
	f.fields[blogID][postID] = fields
}

func makePost(id int64, postType, title string) store.Post {
	return store.Post{
		ID:     id,
		Type:   postType,
		Status: "publish",
		Fields: []store.Field{
			{Name: "ID", Value: id},
			{Name: "post_title", Value: title},
			{Name: "post_status", Value: "publish"},
			{Name: "post_type", Value: postType},
			{Name: "filter", Value: "raw"},
		},
	}
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func readExport(t *testing.T, dir string, blogID int64) []byte {
	t.Helper()
	data, err := os.ReadFile(FilePath(dir, blogID))
	if err != nil {
		t.Fatalf("export file for blog %d not readable: %v", blogID, err)
	}
	if !gjson.ValidBytes(data) {
		t.Fatalf("export file for blog %d is not valid JSON:\n%s", blogID, data)
	}
	return data
}

func TestExportAll_BlogWithPostsAndPage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	src := newFakeSource(5)
	src.posts[5] = []store.Post{
		makePost(10, "post", "Red"),
		makePost(11, "post", "Plain"),
		makePost(12, "page", "About"),
	}
	src.setFields(5, 10, map[string]interface{}{"color": "red"})

	exp := NewExporter(src, dir, zaptest.NewLogger(t))
	report, err := exp.ExportAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if report.Count(StateWritten) != 1 || report.Records() != 3 {
		t.Errorf("unexpected report %+v", report.Results)
	}

	data := readExport(t, dir, 5)

	if got := gjson.GetBytes(data, "blog"); got.Type != gjson.Number || got.Int() != 5 {
		t.Errorf("blog should be the number 5, got %s", got.Raw)
	}
	if got := gjson.GetBytes(data, "summary.count.all").Int(); got != 3 {
		t.Errorf("summary.count.all = %d, want 3", got)
	}
	if got := gjson.GetBytes(data, "summary.count.post").Int(); got != 2 {
		t.Errorf("summary.count.post = %d, want 2", got)
	}
	if got := gjson.GetBytes(data, "summary.count.page").Int(); got != 1 {
		t.Errorf("summary.count.page = %d, want 1", got)
	}
	if got := gjson.GetBytes(data, "post_data.#").Int(); got != 3 {
		t.Fatalf("post_data has %d entries, want 3", got)
	}
	if got := gjson.GetBytes(data, "post_data.0.acf_fields.color").String(); got != "red" {
		t.Errorf("first post should carry color=red, got %q", got)
	}
	if got := gjson.GetBytes(data, "post_data.1.acf_fields"); !got.IsObject() || got.Raw != "{}" {
		t.Errorf("second post should carry an empty object, got %s", got.Raw)
	}
	if got := gjson.GetBytes(data, "post_data.2.post_type").String(); got != "page" {
		t.Errorf("third entry should be the page, got %q", got)
	}

	var keys []string
	gjson.GetBytes(data, "post_data.0").ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	want := []string{"ID", "post_title", "post_status", "post_type", "filter", FieldsKey}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("entry keys = %v, want %v", keys, want)
	}

	var counters []string
	gjson.GetBytes(data, "summary.count").ForEach(func(key, _ gjson.Result) bool {
		counters = append(counters, key.String())
		return true
	})
	if fmt.Sprint(counters) != "[all post page]" {
		t.Errorf("summary counters in order %v", counters)
	}
}

func TestExportAll_ExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(7)
	src.posts[7] = []store.Post{makePost(1, "post", "New")}

	path := FilePath(dir, 7)
	original := []byte(`{"blog": 7, "stale": true}`)
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	logger, logs := observedLogger()
	report, err := NewExporter(src, dir, logger).ExportAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != string(original) {
		t.Errorf("existing export was rewritten:\n%s", data)
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(past) {
		t.Errorf("mtime changed: %v != %v", info.ModTime(), past)
	}
	if len(src.queried) != 0 {
		t.Errorf("blog with an export should not be queried, queried %v", src.queried)
	}
	if report.Count(StateSkippedExists) != 1 {
		t.Errorf("expected one skipped_exists result, got %+v", report.Results)
	}
	skips := logs.FilterMessage("Export file already exists, skipping blog").FilterField(zap.Int64("blog_id", 7))
	if skips.Len() != 1 {
		t.Errorf("expected a skip diagnostic for blog 7, got %d", skips.Len())
	}
}

func TestExportAll_EmptyBlogCreatesNoFile(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(8, 9)
	src.posts[9] = []store.Post{makePost(1, "page", "Home")}

	logger, logs := observedLogger()
	report, err := NewExporter(src, dir, logger).ExportAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}

	if fileExists(FilePath(dir, 8)) {
		t.Error("empty blog should not get an export file")
	}
	if !fileExists(FilePath(dir, 9)) {
		t.Error("blog after the empty one should still be exported")
	}
	if report.Results[0].State != StateSkippedEmpty || report.Results[1].State != StateWritten {
		t.Errorf("unexpected states %+v", report.Results)
	}
	if logs.FilterMessage("Blog has no posts, skipping").Len() != 1 {
		t.Error("expected a warning for the empty blog")
	}
}

func TestExportAll_InvalidPostsExcluded(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(3)
	src.posts[3] = []store.Post{
		makePost(1, "post", "Good"),
		{ID: 0, Type: "post", Fields: []store.Field{{Name: "ID", Value: int64(0)}}},
		{ID: 4, Type: "page"},
		makePost(5, "faculty-staff", "Dr. Who"),
	}

	logger, logs := observedLogger()
	report, err := NewExporter(src, dir, logger).ExportAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}

	data := readExport(t, dir, 3)
	all := gjson.GetBytes(data, "summary.count.all").Int()
	entries := gjson.GetBytes(data, "post_data.#").Int()
	if all != 2 || entries != 2 {
		t.Errorf("all=%d entries=%d, want 2 and 2", all, entries)
	}

	var sum int64
	gjson.GetBytes(data, "summary.count").ForEach(func(key, value gjson.Result) bool {
		if key.String() != SummaryAllKey {
			sum += value.Int()
		}
		return true
	})
	if sum != all {
		t.Errorf("per-type counters sum to %d, all is %d", sum, all)
	}
	if gjson.GetBytes(data, "summary.count.page").Exists() {
		t.Error("excluded page must not be counted")
	}
	if report.Results[0].Skipped != 2 {
		t.Errorf("expected 2 skipped posts, got %d", report.Results[0].Skipped)
	}
	if logs.FilterMessage("Skipping invalid post").Len() != 2 {
		t.Errorf("expected 2 per-post warnings, got %d", logs.FilterMessage("Skipping invalid post").Len())
	}
}

func TestExportAll_FieldReadFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(5, 6)
	src.posts[5] = []store.Post{
		makePost(10, "post", "Red"),
		makePost(11, "post", "Plain"),
		makePost(12, "page", "About"),
	}
	src.posts[6] = []store.Post{makePost(1, "post", "Next")}
	refused := errors.New("dial tcp 10.0.0.5:3306: connect: connection refused")
	for _, id := range []int64{10, 11, 12} {
		src.fieldErrs[id] = refused
	}

	logger, logs := observedLogger()
	exp := NewExporter(src, dir, logger)
	report, err := exp.ExportAll(context.Background(), nil)
	if !errors.Is(err, refused) {
		t.Fatalf("ExportAll() error = %v, want the field read error", err)
	}
	if fileExists(FilePath(dir, 5)) || fileExists(FilePath(dir, 6)) {
		t.Fatal("no export should be written after a failed field read")
	}
	if len(report.Results) != 1 || report.Results[0].State != StatePending {
		t.Errorf("run should stop at blog 5, got %+v", report.Results)
	}
	if logs.FilterMessage("Skipping invalid post").Len() != 0 {
		t.Error("a failed field read must not be treated as an invalid post")
	}

	// Once the store is healthy the blog is exported in full.
	for _, id := range []int64{10, 11, 12} {
		delete(src.fieldErrs, id)
	}
	report, err = exp.ExportAll(context.Background(), []int64{5})
	if err != nil {
		t.Fatalf("second ExportAll() error = %v", err)
	}
	if report.Results[0].State != StateWritten {
		t.Fatalf("blog 5 should be written on retry, got %v", report.Results[0].State)
	}
	data := readExport(t, dir, 5)
	if got := gjson.GetBytes(data, "post_data.#").Int(); got != 3 {
		t.Errorf("post_data has %d entries, want 3", got)
	}
}

func TestExportAll_FieldsUnavailableIsFatal(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(2, 3)
	src.posts[2] = []store.Post{makePost(1, "post", "A")}
	src.posts[3] = []store.Post{makePost(1, "post", "B")}
	src.noACF[2] = true

	report, err := NewExporter(src, dir, zaptest.NewLogger(t)).ExportAll(context.Background(), nil)
	if !errors.Is(err, store.ErrFieldsUnavailable) {
		t.Fatalf("expected ErrFieldsUnavailable, got %v", err)
	}
	if fileExists(FilePath(dir, 2)) || fileExists(FilePath(dir, 3)) {
		t.Error("no export should be written once custom fields are unavailable")
	}
	if len(report.Results) != 1 {
		t.Errorf("run should stop at the first blog, got %+v", report.Results)
	}
}

func TestExportAll_SummaryIsPerBlog(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(1, 2)
	src.posts[1] = []store.Post{makePost(1, "post", "A"), makePost(2, "post", "B")}
	src.posts[2] = []store.Post{makePost(1, "page", "C")}

	if _, err := NewExporter(src, dir, zaptest.NewLogger(t)).ExportAll(context.Background(), nil); err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}

	data := readExport(t, dir, 2)
	if got := gjson.GetBytes(data, "summary.count.all").Int(); got != 1 {
		t.Errorf("second blog summary leaked counts from the first: all=%d", got)
	}
	if gjson.GetBytes(data, "summary.count.post").Exists() {
		t.Error("second blog summary should not count posts of the first blog")
	}
}

func TestExportAll_FilterOrderAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(1, 4, 6)
	for _, id := range []int64{1, 4, 6} {
		src.posts[id] = []store.Post{makePost(1, "post", "x")}
	}

	logger, logs := observedLogger()
	report, err := NewExporter(src, dir, logger).ExportAll(context.Background(), []int64{6, 4, 6, 99})
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}

	var order []int64
	var states []State
	for _, res := range report.Results {
		order = append(order, res.BlogID)
		states = append(states, res.State)
	}
	if fmt.Sprint(order) != "[6 4 6]" {
		t.Errorf("blogs processed in order %v", order)
	}
	if states[2] != StateSkippedExists {
		t.Errorf("duplicate blog should be skipped by the existing file, got %v", states[2])
	}
	if fmt.Sprint(src.queried) != "[6 4]" {
		t.Errorf("queried %v", src.queried)
	}
	if fileExists(FilePath(dir, 1)) {
		t.Error("blog outside the filter was exported")
	}
	if logs.FilterMessage("Blog not found, skipping").FilterField(zap.Int64("blog_id", 99)).Len() != 1 {
		t.Error("expected a warning for the unknown blog")
	}
}

func TestExportAll_QueryFailureContinues(t *testing.T) {
	dir := t.TempDir()
	src := newFakeSource(1, 2)
	src.queryErrs[1] = errors.New("table wp_posts doesn't exist")
	src.posts[2] = []store.Post{makePost(1, "post", "x")}

	report, err := NewExporter(src, dir, zaptest.NewLogger(t)).ExportAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if report.Results[0].State != StateQueryFailed || report.Results[1].State != StateWritten {
		t.Errorf("unexpected states %+v", report.Results)
	}
}

func TestExportAll_Cancelled(t *testing.T) {
	src := newFakeSource(1)
	src.posts[1] = []store.Post{makePost(1, "post", "x")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExporter(src, t.TempDir(), zaptest.NewLogger(t)).ExportAll(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExportTenant_WriteFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "not-created")
	src := newFakeSource(1)
	src.posts[1] = []store.Post{makePost(1, "post", "x")}

	logger, logs := observedLogger()
	res, err := NewExporter(src, missing, logger).ExportTenant(context.Background(), src.tenants[0])
	if err != nil {
		t.Fatalf("write failures must not stop the run: %v", err)
	}
	if res.State != StateWriteFailed {
		t.Errorf("expected write_failed, got %v", res.State)
	}
	if logs.FilterMessage("Failed to create file").Len() != 1 {
		t.Error("expected a write failure warning")
	}
}

func TestWriteFile_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	doc := &ExportFile{Blog: 1, Summary: NewSummary(), PostData: []Entry{}}

	if err := writeFile(FilePath(dir, 1), doc); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName(1) {
		t.Errorf("unexpected directory contents %v", entries)
	}

	data := readExport(t, dir, 1)
	if got := gjson.GetBytes(data, "post_data").Raw; got != "[]" {
		t.Errorf("empty post_data should be [], got %s", got)
	}
	if got := gjson.GetBytes(data, "summary.count").Raw; got != "{}" {
		t.Errorf("empty summary should be {}, got %s", got)
	}
}
