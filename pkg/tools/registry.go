// Package tools is the tool registry and execution layer: schemas,
// per-tool semaphores, caches, circuit breakers, and retries.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
)

// Tool is one registered capability.
type Tool interface {
	Name() string
	Description() string
	Schema() domain.ToolSchema
	Metadata() domain.ToolMetadata
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// registration couples a tool with its runtime guards.
type registration struct {
	tool    Tool
	sem     chan struct{}
	cache   *cache.Namespace
	breaker *breaker
}

type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registration
	shared *cache.MemoryCache
}

func NewRegistry(shared *cache.MemoryCache) *Registry {
	return &Registry{
		tools:  make(map[string]*registration),
		shared: shared,
	}
}

// Register adds a tool, building its semaphore, cache namespace, and
// circuit breaker from the tool's metadata.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: tool %s already registered", domain.ErrInvalidInput, name)
	}

	meta := tool.Metadata()
	maxConc := meta.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}

	reg := &registration{
		tool:    tool,
		sem:     make(chan struct{}, maxConc),
		breaker: newBreaker(),
	}
	if meta.CacheEnabled && r.shared != nil {
		ttl := meta.CacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		reg.cache = r.shared.Namespace(name, ttl)
	}
	r.tools[name] = reg
	return nil
}

func (r *Registry) get(name string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Schemas returns the schemas of the named tools, skipping unknown
// names. With no names, all registered tools are returned.
func (r *Registry) Schemas(names []string) []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ToolSchema
	if len(names) == 0 {
		for _, reg := range r.tools {
			out = append(out, reg.tool.Schema())
		}
		return out
	}
	for _, name := range names {
		if reg, ok := r.tools[name]; ok {
			out = append(out, reg.tool.Schema())
		}
	}
	return out
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.get(name)
	return ok
}
