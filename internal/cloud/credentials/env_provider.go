// Package credentials supplies storage credentials to the S3 backend.
package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/rescale/dndupload/internal/cloud/storage"
	"github.com/rescale/dndupload/internal/config"
)

// envCredentialTTL is how long fetched keys are trusted before the cache
// reads the environment again.
const envCredentialTTL = 15 * time.Minute

// EnvProvider implements AWS SDK's CredentialsProvider interface by reading
// the DNDUPLOAD_S3_* variables on every Retrieve, so keys rotated by a
// wrapper script are picked up by the next refresh.
//
// Usage:
//
//	cache := aws.NewCredentialsCache(credentials.NewEnvProvider(), func(o *aws.CredentialsCacheOptions) {
//	    o.ExpiryWindow = time.Minute
//	})
type EnvProvider struct {
	mu        sync.Mutex
	lastFetch time.Time
}

// NewEnvProvider creates a provider over the DNDUPLOAD_S3_* variables.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// EnvConfigured reports whether the access key pair is set.
func EnvConfigured() bool {
	return os.Getenv(config.EnvS3AccessKey) != "" && os.Getenv(config.EnvS3SecretKey) != ""
}

// Retrieve reads the current keys from the environment.
func (p *EnvProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !EnvConfigured() {
		return aws.Credentials{}, fmt.Errorf("%s and %s must be set: %w",
			config.EnvS3AccessKey, config.EnvS3SecretKey, storage.ErrMissingCredentials)
	}

	static := awscreds.NewStaticCredentialsProvider(
		os.Getenv(config.EnvS3AccessKey),
		os.Getenv(config.EnvS3SecretKey),
		os.Getenv(config.EnvS3SessionToken),
	)
	creds, err := static.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to get credentials: %w", err)
	}

	p.lastFetch = time.Now()
	creds.Source = "DndUploadEnvProvider"
	creds.CanExpire = true
	creds.Expires = p.lastFetch.Add(envCredentialTTL)
	return creds, nil
}

// NewCache wraps an EnvProvider in the SDK's credentials cache.
func NewCache() *aws.CredentialsCache {
	return aws.NewCredentialsCache(NewEnvProvider(), func(o *aws.CredentialsCacheOptions) {
		o.ExpiryWindow = time.Minute
	})
}
