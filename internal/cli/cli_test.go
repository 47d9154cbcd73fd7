package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/history"
	"github.com/rescale/dndupload/internal/models"
)

// fakeRails serves a direct upload endpoint and the blob store behind it.
type fakeRails struct {
	mu     sync.Mutex
	nextID int64
	stored map[string]string
	reject string
	server *httptest.Server
}

func newFakeRails(t *testing.T) *fakeRails {
	f := &fakeRails{stored: map[string]string{}}
	mux := nethttp.NewServeMux()
	mux.HandleFunc("/rails/active_storage/direct_uploads", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req models.BlobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(nethttp.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.nextID++
		id := f.nextID
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Blob{
			ID:       id,
			Key:      fmt.Sprintf("key%d", id),
			Filename: req.Blob.Filename,
			SignedID: fmt.Sprintf("signed-%s", req.Blob.Filename),
			DirectUpload: models.DirectUploadCredentials{
				URL: fmt.Sprintf("%s/blobs/%s", f.server.URL, req.Blob.Filename),
			},
		})
	})
	mux.HandleFunc("/blobs/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/blobs/")
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if name == f.reject {
			w.WriteHeader(nethttp.StatusForbidden)
			return
		}
		f.stored[name] = string(body)
		w.WriteHeader(nethttp.StatusOK)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRails) endpoint() string {
	return f.server.URL + "/rails/active_storage/direct_uploads"
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("content of "+n), 0600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func writeTestPage(t *testing.T, endpoint string, opts renderOptions) string {
	t.Helper()
	opts.directUploadURL = endpoint
	if opts.object == "" {
		opts.object = "post"
	}
	if len(opts.methods) == 0 {
		opts.methods = []string{"images"}
	}
	var buf bytes.Buffer
	if err := runRender(opts, &buf); err != nil {
		t.Fatalf("runRender() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewDefault()
	cfg.ProgressMode = config.ProgressNone
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func TestRunUpload_Direct(t *testing.T) {
	rails := newFakeRails(t)
	page := writeTestPage(t, rails.endpoint(), renderOptions{})
	files := writeFiles(t, "a.txt", "b.txt")
	cfg := testConfig(t)
	out := filepath.Join(t.TempDir(), "done.html")

	var stdout, stderr bytes.Buffer
	err := runUpload(context.Background(), cfg, uploadOptions{page: page, renderOut: out}, files, &stdout, &stderr)
	if err != nil {
		t.Fatalf("runUpload() error = %v\nstderr: %s", err, stderr.String())
	}

	if rails.stored["a.txt"] != "content of a.txt" || rails.stored["b.txt"] != "content of b.txt" {
		t.Errorf("stored = %v", rails.stored)
	}
	if strings.Count(stdout.String(), "uploaded") != 2 {
		t.Errorf("result table:\n%s", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	doc, err := dom.Parse(f)
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]bool{}
	for _, n := range dom.QueryAttr(doc.Root(), dom.AttrUploadedFileName) {
		v, _ := dom.Attr(n, "value")
		values[v] = true
	}
	if !values["signed-a.txt"] || !values["signed-b.txt"] {
		t.Errorf("rendered page should carry both signed ids, got %v", values)
	}

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	entries, _ := store.List(context.Background(), 0)
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Status != history.StatusCompleted {
			t.Errorf("history %s = %s", e.FileName, e.Status)
		}
	}
}

func TestRunUpload_FailureStopsDrain(t *testing.T) {
	rails := newFakeRails(t)
	rails.reject = "b.txt"
	page := writeTestPage(t, rails.endpoint(), renderOptions{})
	files := writeFiles(t, "a.txt", "b.txt", "c.txt")

	var stdout, stderr bytes.Buffer
	err := runUpload(context.Background(), testConfig(t), uploadOptions{page: page, noHistory: true}, files, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "b.txt") {
		t.Fatalf("runUpload() error = %v, want the b.txt failure", err)
	}
	if !strings.Contains(err.Error(), "check the storage credentials") {
		t.Errorf("a 403 should carry the credentials hint: %v", err)
	}
	if _, ok := rails.stored["c.txt"]; ok {
		t.Error("files after the failure must not be uploaded")
	}
	if !strings.Contains(stdout.String(), "failed") || !strings.Contains(stdout.String(), "not started") {
		t.Errorf("result table:\n%s", stdout.String())
	}
}

func TestRunUpload_DryRunWithCancel(t *testing.T) {
	files := writeFiles(t, "a.txt", "b.txt", "c.txt")
	cfg := testConfig(t)
	cfg.DirectUploadURL = "https://app.example.com/rails/active_storage/direct_uploads"

	var stdout, stderr bytes.Buffer
	opts := uploadOptions{dryRun: true, cancelIDs: []string{"2"}}
	paths := append(files, filepath.Join(t.TempDir(), "missing.txt"))
	if err := runUpload(context.Background(), cfg, opts, paths, &stdout, &stderr); err != nil {
		t.Fatalf("runUpload() error = %v", err)
	}

	table := stdout.String()
	if !strings.Contains(table, "a.txt") || !strings.Contains(table, "c.txt") || strings.Contains(table, "b.txt") {
		t.Errorf("dry-run table:\n%s", table)
	}
	if !strings.Contains(table, "upload[files][]") || !strings.Contains(table, constants.BackendDirect) {
		t.Errorf("dry-run table should show the field and backend:\n%s", table)
	}
	if !strings.Contains(stderr.String(), "Skipping") {
		t.Errorf("a missing file should be reported, stderr: %s", stderr.String())
	}
	if _, err := os.Stat(cfg.HistoryPath); err == nil {
		t.Error("a dry run records no history")
	}
}

func TestRunUpload_SingleInputKeepsLastFile(t *testing.T) {
	rails := newFakeRails(t)
	page := writeTestPage(t, rails.endpoint(), renderOptions{object: "user", methods: []string{"avatar"}, single: true})
	files := writeFiles(t, "first.png", "second.png")

	var stdout, stderr bytes.Buffer
	err := runUpload(context.Background(), testConfig(t), uploadOptions{page: page, noHistory: true}, files, &stdout, &stderr)
	if err != nil {
		t.Fatalf("runUpload() error = %v", err)
	}
	if _, ok := rails.stored["first.png"]; ok {
		t.Error("a single-file input replaces the pending file")
	}
	if _, ok := rails.stored["second.png"]; !ok {
		t.Error("the last file should be uploaded")
	}
}

func TestSelectInput(t *testing.T) {
	page := writeTestPage(t, "", renderOptions{methods: []string{"images", "docs"}, fragment: true})
	f, _ := os.Open(page)
	defer f.Close()
	doc, err := dom.Parse(f)
	if err != nil {
		t.Fatal(err)
	}

	_, in, err := selectInput(doc, "", "")
	if err != nil || in.ID() != "post_images" {
		t.Errorf("default input = %q, %v", in.ID(), err)
	}
	_, in, err = selectInput(doc, "post_form", "post_docs")
	if err != nil || in.ID() != "post_docs" {
		t.Errorf("named input = %q, %v", in.ID(), err)
	}
	if _, _, err := selectInput(doc, "nope", ""); err == nil {
		t.Error("expected an error for an unknown form")
	}
	if _, _, err := selectInput(doc, "", "nope"); err == nil {
		t.Error("expected an error for an unknown input")
	}
}

func TestRunRender(t *testing.T) {
	var buf bytes.Buffer
	err := runRender(renderOptions{
		object:      "post",
		methods:     []string{"images"},
		attachments: []string{"a.png=s1"},
		content:     "Drop here",
		action:      "/posts",
	}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<!DOCTYPE html>", `id="asdndz-post_images"`, `value="s1"`, `action="/posts"`, "Drop here"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("render output missing %q", want)
		}
	}

	if err := runRender(renderOptions{object: "post", methods: []string{"images"}, attachments: []string{"nosigned"}}, io.Discard); err == nil {
		t.Error("expected an error for a malformed attachment")
	}
}

func TestPromptConfig(t *testing.T) {
	answers := strings.Join([]string{
		"ftp",       // invalid, asked again
		"s3",        // backend
		"uploads",   // bucket
		"",          // region default
		"incoming/", // prefix
		"",          // endpoint
		"abc",       // invalid size, asked again
		"1024",      // max size
		"2",         // retries
		"",          // proxy default
		"simple",    // progress
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := promptConfig(newPrompter(strings.NewReader(answers), &out))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != constants.BackendS3 || cfg.S3Bucket != "uploads" || cfg.S3Region != "us-east-1" || cfg.S3Prefix != "incoming/" {
		t.Errorf("s3 settings = %+v", cfg)
	}
	if cfg.MaxFileSize != 1024 || cfg.MaxRetries != 2 || cfg.ProxyMode != "no-proxy" || cfg.ProgressMode != config.ProgressSimple {
		t.Errorf("transfer settings = %+v", cfg)
	}
	if strings.Count(out.String(), "Invalid choice") != 1 || !strings.Contains(out.String(), "whole number") {
		t.Errorf("prompts:\n%s", out.String())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("prompted config should validate: %v", err)
	}
}
