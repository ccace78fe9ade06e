// Package connector acquires raw documents and yields them as DocumentChunks.
// Connectors are looked up by source type in a Registry built at startup.
package connector

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/logging"
	"go.uber.org/zap"
)

// Source types registered by default
const (
	TypeText   = "text"
	TypeFile   = "file"
	TypeFeishu = "feishu"
)

// Connector yields a finite chunk stream. Load may be called once; the chunk
// channel closes when the source is exhausted and the error channel carries at
// most one error before closing.
type Connector interface {
	Load(ctx context.Context) (<-chan domain.DocumentChunk, <-chan error)
}

// Factory builds a connector for one sync request
type Factory func(req domain.SyncRequest) (Connector, error)

// Registry maps source types to connector factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logging.OrNop(logger).With(zap.String("component", "connector")),
	}
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		r.logger.Warn("connector overwritten", zap.String("type", name))
	} else {
		r.logger.Debug("connector registered", zap.String("type", name))
	}
	r.factories[name] = f
}

// Get returns the factory for name
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// New builds the connector for req.SourceType, or fails with ErrUnsupportedSource
func (r *Registry) New(req domain.SyncRequest) (Connector, error) {
	f, ok := r.Get(req.SourceType)
	if !ok {
		return nil, domain.UnsupportedSourceError(req.SourceType)
	}
	return f(req)
}

// Names lists registered source types
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// emitFunc sends one chunk downstream and reports false once the consumer is gone
type emitFunc func(domain.DocumentChunk) bool

// stream runs produce in a goroutine and adapts it to the Connector channel pair
func stream(ctx context.Context, produce func(ctx context.Context, emit emitFunc) error) (<-chan domain.DocumentChunk, <-chan error) {
	chunks := make(chan domain.DocumentChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)

		emit := func(c domain.DocumentChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil {
			errs <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

// configString reads a string value from connector config
func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func invalidConfig(msg string) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrInvalidConnectorConf.Message, errors.New(msg))
}
