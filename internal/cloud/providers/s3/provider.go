// Package s3 uploads files to an S3 bucket (or an S3-compatible store)
// with aws-sdk-go-v2.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/cloud/credentials"
	"github.com/rescale/dndupload/internal/cloud/storage"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/http"
	"github.com/rescale/dndupload/internal/logging"
)

// Provider puts each file as one object under the configured prefix.
// Thread-safe: the S3 client is safe for concurrent use.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
	retry  http.Config
	logger *logging.Logger
}

// NewProvider builds an S3 client from cfg.
//
// Credentials come from DNDUPLOAD_S3_ACCESS_KEY/SECRET_KEY when set and from
// the SDK's default chain otherwise. SDK retries are off; cfg.MaxRetries is
// applied per upload by http.ExecuteWithRetry.
func NewProvider(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Provider, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket is required")
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if credentials.EnvConfigured() {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewCache()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Credentials == nil {
		return nil, fmt.Errorf("s3 backend: %w", storage.ErrMissingCredentials)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Provider{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		retry:  http.RetryConfig(cfg),
		logger: logging.OrNop(logger).Child("s3"),
	}, nil
}

// Backend returns "s3".
func (p *Provider) Backend() string {
	return constants.BackendS3
}

// Reserve picks the object key. Nothing is sent to S3.
func (p *Provider) Reserve(ctx context.Context, params cloud.UploadParams) (*cloud.Reservation, error) {
	return &cloud.Reservation{Key: ObjectKey(p.prefix, params.File.Name)}, nil
}

// Upload puts the file. The body is rewound for every attempt.
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

	retry := p.retry
	retry.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Str("type", errType.String()).
			Str("key", res.Key).Msg("retrying upload")
	}

	err = http.ExecuteWithRetry(ctx, retry, func() error {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(res.Key),
			Body:          pr,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(params.File.ContentType),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to s3://%s/%s: %w", params.File.Name, p.bucket, res.Key, err)
	}

	timer.StopWithThroughput(info.Size())
	p.logger.Debug().Str("key", res.Key).Int64("size", info.Size()).Msg("object stored")

	return &cloud.UploadResult{
		Key:      res.Key,
		Location: fmt.Sprintf("s3://%s/%s", p.bucket, res.Key),
		Size:     info.Size(),
	}, nil
}

// ObjectKey returns prefix/<uuid>/<name>. The uuid keeps two uploads of the
// same name apart.
func ObjectKey(prefix, name string) string {
	key := path.Join(uuid.NewString(), path.Base(strings.ReplaceAll(name, "\\", "/")))
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

var _ cloud.Uploader = (*Provider)(nil)
