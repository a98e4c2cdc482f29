package s3

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/connector/registry"
)

func init() {
	// Register the S3 destination
	_ = registry.RegisterDestination(config.MirrorTypeS3, func(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error) {
		return NewS3Destination(ctx, cfg, logger)
	})
}
