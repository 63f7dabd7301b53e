package source

import (
	"context"
	"errors"
	"fmt"

	"TieredCrawler/internal/domain"
)

var (
	// ErrTransient marks failures worth retrying (network, 5xx, throttling, bad payloads).
	ErrTransient = errors.New("transient fetch error")
	// ErrNotFound marks items the remote reports as gone; retrying will not help.
	ErrNotFound = errors.New("item not found upstream")
)

// StatsSource fetches the current metric counters of one remote item.
type StatsSource interface {
	Name() string
	FetchStats(ctx context.Context, externalID string) (domain.Metrics, error)
}

// Registry keeps a mapping from platform names to their stats sources.
type Registry struct {
	sources map[string]StatsSource
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]StatsSource{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(src StatsSource) {
	if r.sources == nil {
		r.sources = map[string]StatsSource{}
	}
	r.sources[src.Name()] = src
}

// Resolve returns a source by platform name or an error if it is absent.
func (r *Registry) Resolve(name string) (StatsSource, error) {
	if name == "" {
		name = domain.DefaultPlatform
	}
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("stats source %s is not registered", name)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
