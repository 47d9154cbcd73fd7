// Package providers creates the storage backend selected by configuration.
package providers

import (
	"context"
	"fmt"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/cloud/providers/azure"
	"github.com/rescale/dndupload/internal/cloud/providers/direct"
	"github.com/rescale/dndupload/internal/cloud/providers/s3"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/constants"
	"github.com/rescale/dndupload/internal/logging"
)

// NewUploader creates the Uploader for cfg.Backend.
func NewUploader(ctx context.Context, cfg *config.Config, logger *logging.Logger) (cloud.Uploader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Backend {
	case constants.BackendDirect, "":
		return direct.NewProvider(cfg, logger)
	case constants.BackendS3:
		return s3.NewProvider(ctx, cfg, logger)
	case constants.BackendAzure:
		return azure.NewProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
