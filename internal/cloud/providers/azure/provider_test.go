package azure

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

// fakeBlobService accepts Put Blob, Put Block and Put Block List requests.
type fakeBlobService struct {
	mu           sync.Mutex
	paths        []string
	bodies       strings.Builder
	contentTypes []string
	signatures   []string
	failPuts     int
}

func (f *fakeBlobService) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
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
	f.signatures = append(f.signatures, r.URL.Query().Get("sig"))
	if ct := r.Header.Get("x-ms-blob-content-type"); ct != "" {
		f.contentTypes = append(f.contentTypes, ct)
	}
	if r.URL.Query().Get("comp") != "blocklist" {
		f.bodies.Write(body)
	}
	w.Header().Set("ETag", `"0x8D"`)
	w.WriteHeader(nethttp.StatusCreated)
}

func newTestProvider(t *testing.T, fake *fakeBlobService, retries int) *Provider {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := config.NewDefault()
	cfg.Backend = "azure"
	cfg.AzureContainerURL = server.URL + "/devstoreaccount1/uploads?sv=2024-05-04&sig=s3cret"
	cfg.MaxRetries = retries

	p, err := NewProvider(cfg, nil)
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
	fake := &fakeBlobService{}
	p := newTestProvider(t, fake, 0)
	file := testFile(t, "photo.png", "\x89PNG fake image")

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

	if len(fake.paths) == 0 {
		t.Fatal("no requests reached the blob service")
	}
	want := "/devstoreaccount1/uploads/" + res.Key
	for _, path := range fake.paths {
		if path != want {
			t.Errorf("request path = %q, want %q", path, want)
		}
	}
	for _, sig := range fake.signatures {
		if sig != "s3cret" {
			t.Errorf("SAS signature not forwarded, got %q", sig)
		}
	}
	if !strings.Contains(fake.bodies.String(), "\x89PNG fake image") {
		t.Errorf("uploaded bytes = %q", fake.bodies.String())
	}
	if len(fake.contentTypes) == 0 || fake.contentTypes[len(fake.contentTypes)-1] != "image/png" {
		t.Errorf("blob content type = %v", fake.contentTypes)
	}
	if strings.Contains(result.Location, "sig=") {
		t.Errorf("Location must not carry the SAS token: %s", result.Location)
	}
	if !strings.HasSuffix(result.Location, "/uploads/"+res.Key) {
		t.Errorf("Location = %s", result.Location)
	}
	if last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	fake := &fakeBlobService{failPuts: 1}
	p := newTestProvider(t, fake, 1)

	if _, err := p.Upload(context.Background(), cloud.UploadParams{File: testFile(t, "a.txt", "again")}, nil); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.Contains(fake.bodies.String(), "again") {
		t.Errorf("uploaded bytes = %q", fake.bodies.String())
	}
}

func TestNewProvider_Validation(t *testing.T) {
	cfg := config.NewDefault()
	if _, err := NewProvider(cfg, nil); err == nil {
		t.Error("expected an error without a container URL")
	}

	cfg.AzureContainerURL = "not a url"
	if _, err := NewProvider(cfg, nil); err == nil {
		t.Error("expected an error for a relative container URL")
	}
}

func TestBlobName(t *testing.T) {
	for _, name := range []string{"a.txt", "dir/a.txt", `C:\dir\a.txt`} {
		got := BlobName(name)
		if !strings.HasSuffix(got, "-a.txt") || strings.ContainsAny(got, `/\`) {
			t.Errorf("BlobName(%q) = %q", name, got)
		}
	}
	if BlobName("a.txt") == BlobName("a.txt") {
		t.Error("names must be unique")
	}
}
