// Package azure uploads files as block blobs into an Azure container
// addressed by a SAS URL.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/google/uuid"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/cloud/storage"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/http"
	"github.com/rescale/dndupload/internal/logging"
)

// uploadBlockSize is the staged block size for UploadStream.
const uploadBlockSize = 4 * 1024 * 1024

// Provider writes each file to <uuid>-<name> in the container.
// Thread-safe: the container client is safe for concurrent use.
type Provider struct {
	client       *container.Client
	containerURL string
	retry        http.Config
	logger       *logging.Logger
}

// NewProvider builds a container client from cfg.AzureContainerURL, which
// must carry its SAS token. SDK retries are off; cfg.MaxRetries is applied
// per upload by http.ExecuteWithRetry.
func NewProvider(cfg *config.Config, logger *logging.Logger) (*Provider, error) {
	if cfg.AzureContainerURL == "" {
		return nil, fmt.Errorf("azure backend: %w", storage.ErrMissingCredentials)
	}
	u, err := url.Parse(cfg.AzureContainerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid azure_container_url")
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client, err := container.NewClientWithNoCredential(cfg.AzureContainerURL, &container.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	u.RawQuery = ""
	return &Provider{
		client:       client,
		containerURL: strings.TrimSuffix(u.String(), "/"),
		retry:        http.RetryConfig(cfg),
		logger:       logging.OrNop(logger).Child("azure"),
	}, nil
}

// Backend returns "azure".
func (p *Provider) Backend() string {
	return constants.BackendAzure
}

// Reserve picks the blob name. Nothing is sent to Azure.
func (p *Provider) Reserve(ctx context.Context, params cloud.UploadParams) (*cloud.Reservation, error) {
	return &cloud.Reservation{Key: BlobName(params.File.Name)}, nil
}

// Upload streams the file into a block blob. The body is rewound for every attempt.
func (p *Provider) Upload(ctx context.Context, params cloud.UploadParams, res *cloud.Reservation) (*cloud.UploadResult, error) {
	if res == nil {
		res, _ = p.Reserve(ctx, params)
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

	contentType := params.File.ContentType
	blobClient := p.client.NewBlockBlobClient(res.Key)

	retry := p.retry
	retry.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Str("type", errType.String()).
			Str("blob", res.Key).Msg("retrying upload")
	}

	err = http.ExecuteWithRetry(ctx, retry, func() error {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := blobClient.UploadStream(ctx, pr, &blockblob.UploadStreamOptions{
			BlockSize:   uploadBlockSize,
			Concurrency: 1,
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to blob %s: %w", params.File.Name, res.Key, err)
	}

	timer.StopWithThroughput(info.Size())
	p.logger.Debug().Str("blob", res.Key).Int64("size", info.Size()).Msg("blob stored")

	return &cloud.UploadResult{
		Key:      res.Key,
		Location: p.containerURL + "/" + url.PathEscape(res.Key),
		Size:     info.Size(),
	}, nil
}

// BlobName returns <uuid>-<base name>.
func BlobName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return uuid.NewString() + "-" + name
}

var _ cloud.Uploader = (*Provider)(nil)
