// Package registry maps mirror destination types to their factories
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/geomirror/pkg/config"
	"github.com/ajitpratap0/geomirror/pkg/connector/core"
	"github.com/ajitpratap0/geomirror/pkg/logger"
	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// DestinationFactory creates a destination from the mirror configuration
type DestinationFactory func(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error)

// Registry manages destination registration and instantiation
type Registry struct {
	destinations map[string]DestinationFactory
	mu           sync.RWMutex
	logger       *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new destination registry
func NewRegistry() *Registry {
	return &Registry{
		destinations: make(map[string]DestinationFactory),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterDestination registers a destination factory
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[name]; exists {
		return mirrorerrors.New(mirrorerrors.ErrorTypeConfig, fmt.Sprintf("destination %s already registered", name))
	}

	r.destinations[name] = factory
	r.logger.Debug("destination registered", zap.String("name", name))
	return nil
}

// CreateDestination creates a destination for cfg.Type
func (r *Registry) CreateDestination(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error) {
	r.mu.RLock()
	factory, exists := r.destinations[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, mirrorerrors.New(mirrorerrors.ErrorTypeConfig, fmt.Sprintf("destination %s not found", cfg.Type)).
			WithDetail("registered", r.ListDestinations())
	}

	if logger == nil {
		logger = r.logger
	}
	destination, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConfig, fmt.Sprintf("failed to create destination %s", cfg.Type))
	}

	return destination, nil
}

// ListDestinations returns the registered destination types, sorted
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	sort.Strings(destinations)
	return destinations
}

// HasDestination checks if a destination type is registered
func (r *Registry) HasDestination(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[name]
	return exists
}

// Clear removes all registered destinations (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.destinations = make(map[string]DestinationFactory)
}

// Global registry functions

// RegisterDestination registers a destination in the global registry
func RegisterDestination(name string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(name, factory)
}

// CreateDestination creates a destination from the global registry
func CreateDestination(ctx context.Context, cfg *config.MirrorConfig, logger *zap.Logger) (core.Destination, error) {
	return globalRegistry.CreateDestination(ctx, cfg, logger)
}

// ListDestinations returns registered destinations from the global registry
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}

// HasDestination checks if a destination is registered in the global registry
func HasDestination(name string) bool {
	return globalRegistry.HasDestination(name)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
