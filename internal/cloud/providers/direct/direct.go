// Package direct implements the Active Storage direct upload protocol: a
// JSON POST reserves a blob and returns a pre-signed target, then the file
// bytes are PUT to that target.
package direct

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/cloud/storage"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/http"
	"github.com/rescale/dndupload/internal/logging"
	"github.com/rescale/dndupload/internal/models"
)

// maxReservationBody caps how much of a reservation answer is read.
const maxReservationBody = 1 << 20

// Provider uploads files through a direct upload endpoint.
// Thread-safe: holds no per-upload state.
type Provider struct {
	client     *retryablehttp.Client
	defaultURL string
	logger     *logging.Logger
}

// NewProvider creates a provider with a proxy-aware retrying client.
func NewProvider(cfg *config.Config, logger *logging.Logger) (*Provider, error) {
	client, err := http.NewRetryableClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewProviderWithClient(client, cfg.DirectUploadURL, logger), nil
}

// NewProviderWithClient creates a provider around an existing client.
// defaultURL is used for inputs that carry no data-direct-upload-url.
func NewProviderWithClient(client *retryablehttp.Client, defaultURL string, logger *logging.Logger) *Provider {
	return &Provider{
		client:     client,
		defaultURL: defaultURL,
		logger:     logging.OrNop(logger).Child("direct"),
	}
}

// Backend returns "direct".
func (p *Provider) Backend() string {
	return constants.BackendDirect
}

// Endpoint returns the reservation URL used for params.
func (p *Provider) Endpoint(params cloud.UploadParams) string {
	if params.DirectUploadURL != "" {
		return params.DirectUploadURL
	}
	return p.defaultURL
}

// Reserve POSTs the blob description and returns the pre-signed target.
func (p *Provider) Reserve(ctx context.Context, params cloud.UploadParams) (*cloud.Reservation, error) {
	endpoint := p.Endpoint(params)
	if endpoint == "" {
		return nil, fmt.Errorf("no direct upload URL for %s", params.File)
	}

	timer := cloud.StartTimer(params.OutputWriter, "reserve "+params.File.Name)
	defer timer.Stop()

	checksum, err := Checksum(params.File.Path)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(models.BlobRequest{
		Blob: models.BlobAttributes{
			Filename:    params.File.Name,
			ContentType: params.File.ContentType,
			ByteSize:    params.File.Size,
			Checksum:    checksum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode blob request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reservation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: reservation returned %s: %s", storage.ErrUploadRejected, resp.Status, bytes.TrimSpace(snippet))
	}

	var blob models.Blob
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReservationBody)).Decode(&blob); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidResponse, err)
	}
	if blob.DirectUpload.URL == "" {
		return nil, fmt.Errorf("%w: missing direct_upload.url", storage.ErrInvalidResponse)
	}
	if blob.SignedID == "" {
		return nil, fmt.Errorf("%w: missing signed_id", storage.ErrInvalidResponse)
	}

	res := &cloud.Reservation{
		Key:       blob.Key,
		SignedID:  blob.SignedID,
		UploadURL: blob.DirectUpload.URL,
		Headers:   blob.DirectUpload.Headers,
	}
	if blob.ID != 0 {
		res.ServerID = strconv.FormatInt(blob.ID, 10)
	}

	p.logger.Debug().Str("file", params.File.Name).Str("blob_id", res.ServerID).Str("key", res.Key).Msg("blob reserved")
	return res, nil
}

// Upload PUTs the file bytes to the reserved target. A nil reservation is
// reserved first.
func (p *Provider) Upload(ctx context.Context, params cloud.UploadParams, res *cloud.Reservation) (*cloud.UploadResult, error) {
	if res == nil {
		var err error
		if res, err = p.Reserve(ctx, params); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(params.File.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() != params.File.Size {
		return nil, fmt.Errorf("%s: %w", params.File.Name, storage.ErrFileChanged)
	}

	timer := cloud.StartTimer(params.OutputWriter, "upload "+params.File.Name)

	pr := cloud.NewProgressReader(f, info.Size(), params.ProgressCallback)
	pr.Report()

	// Each attempt rewinds the file.
	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return pr, nil
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodPut, res.UploadURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	for k, v := range res.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", params.File.ContentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReservationBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upload returned %s", storage.ErrUploadRejected, resp.Status)
	}

	timer.StopWithThroughput(info.Size())

	return &cloud.UploadResult{
		Key:      res.Key,
		Location: stripQuery(res.UploadURL),
		SignedID: res.SignedID,
		ServerID: res.ServerID,
		Size:     info.Size(),
	}, nil
}

// Checksum returns the base64 MD5 digest Active Storage expects.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// stripQuery drops the signature from a pre-signed URL.
func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

var _ cloud.Uploader = (*Provider)(nil)
