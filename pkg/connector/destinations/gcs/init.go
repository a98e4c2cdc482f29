package gcs

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/connector/registry"
)

func init() {
	// Register the GCS destination
	_ = registry.RegisterDestination(config.MirrorTypeGCS, func(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error) {
		return NewGCSDestination(ctx, cfg, logger)
	})
}
