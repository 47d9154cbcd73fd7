package s3

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/models"
)

type fakeS3 struct {
	mu       sync.Mutex
	paths    []string
	bodies   []string
	types    []string
	failPuts int
}

func (f *fakeS3) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method != nethttp.MethodPut {
		w.WriteHeader(nethttp.StatusMethodNotAllowed)
		return
	}
	if f.failPuts > 0 {
		f.failPuts--
		w.WriteHeader(nethttp.StatusServiceUnavailable)
		return
	}
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	f.types = append(f.types, r.Header.Get("Content-Type"))
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(nethttp.StatusOK)
}

func newTestProvider(t *testing.T, fake *fakeS3, retries int) *Provider {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	t.Setenv(config.EnvS3AccessKey, "AKIDEXAMPLE")
	t.Setenv(config.EnvS3SecretKey, "secret")

	cfg := config.NewDefault()
	cfg.Backend = "s3"
	cfg.S3Bucket = "uploads"
	cfg.S3Region = "us-east-1"
	cfg.S3Prefix = "/incoming/"
	cfg.S3Endpoint = server.URL
	cfg.MaxRetries = retries

	p, err := NewProvider(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	p.retry.InitialDelay = time.Millisecond
	p.retry.MaxDelay = 5 * time.Millisecond
	return p
}

func testFile(t *testing.T, name, content string) *models.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	f, err := models.NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestProvider_Upload(t *testing.T) {
	fake := &fakeS3{}
	p := newTestProvider(t, fake, 0)
	file := testFile(t, "scan.pdf", "%PDF-1.7 fake")

	var last float64
	params := cloud.UploadParams{File: file, ProgressCallback: func(f float64) { last = f }}

	res, err := p.Reserve(context.Background(), params)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	result, err := p.Upload(context.Background(), params, res)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if len(fake.paths) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(fake.paths))
	}
	if want := "/uploads/" + res.Key; fake.paths[0] != want {
		t.Errorf("PUT path = %q, want %q", fake.paths[0], want)
	}
	if !strings.Contains(fake.bodies[0], "%PDF-1.7 fake") {
		t.Errorf("body does not contain the file: %q", fake.bodies[0])
	}
	if fake.types[0] != "application/pdf" {
		t.Errorf("Content-Type = %q", fake.types[0])
	}
	if result.Location != "s3://uploads/"+res.Key || result.Size != file.Size {
		t.Errorf("unexpected result: %+v", result)
	}
	if last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	fake := &fakeS3{failPuts: 1}
	p := newTestProvider(t, fake, 2)

	if _, err := p.Upload(context.Background(), cloud.UploadParams{File: testFile(t, "a.txt", "retry me")}, nil); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(fake.bodies) != 1 || !strings.Contains(fake.bodies[0], "retry me") {
		t.Errorf("expected the full body on the retried PUT, got %q", fake.bodies)
	}
}

func TestProvider_NoRetriesByDefault(t *testing.T) {
	fake := &fakeS3{failPuts: 1}
	p := newTestProvider(t, fake, 0)

	if _, err := p.Upload(context.Background(), cloud.UploadParams{File: testFile(t, "a.txt", "x")}, nil); err == nil {
		t.Fatal("expected the 503 to fail the upload")
	}
	if len(fake.bodies) != 0 {
		t.Error("no object should be stored")
	}
}

func TestNewProvider_RequiresBucket(t *testing.T) {
	cfg := config.NewDefault()
	cfg.S3Region = "us-east-1"
	if _, err := NewProvider(context.Background(), cfg, nil); err == nil {
		t.Error("expected an error without a bucket")
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, name, wantPrefix, wantSuffix string
	}{
		{"", "a.txt", "", "/a.txt"},
		{"incoming/", "a.txt", "incoming/", "/a.txt"},
		{"/deep/path/", `C:\Users\me\photo.png`, "deep/path/", "/photo.png"},
	}

	for _, tt := range tests {
		key := ObjectKey(tt.prefix, tt.name)
		if !strings.HasPrefix(key, tt.wantPrefix) || !strings.HasSuffix(key, tt.wantSuffix) {
			t.Errorf("ObjectKey(%q, %q) = %q", tt.prefix, tt.name, key)
		}
		if strings.HasPrefix(key, "/") {
			t.Errorf("ObjectKey(%q, %q) = %q must not start with a slash", tt.prefix, tt.name, key)
		}
	}

	if ObjectKey("", "a.txt") == ObjectKey("", "a.txt") {
		t.Error("keys for the same name must differ")
	}
}
