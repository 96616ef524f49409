package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// DefaultName is the bus used when RELAY_BUS is empty.
const DefaultName = "channel"

// ErrUnknownTransport is returned by Build for names nothing registered.
var ErrUnknownTransport = errors.New("unknown transport")

type entry struct {
	build Builder
	caps  Capabilities
}

// Registry maps bus names to builders. Names are case-insensitive. Bus
// packages register themselves from init.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry holds the buses linked into the binary.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds builder under name with capabilities that only carry the name.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: normalize(name)})
}

// RegisterWithCapabilities adds builder under name, replacing any earlier
// registration.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(name)] = entry{build: builder, caps: caps}
}

// GetCapabilities returns what name guarantees. Unknown names get a value
// carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[normalize(name)]; ok {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build runs the builder selected by cfg.GetPubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("transport: config is required")
	}
	name := normalize(cfg.GetPubSubSystem())
	if name == "" {
		name = DefaultName
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}
	return e.build(ctx, cfg, logger)
}

// Names lists the registered buses in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(name)]
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build builds a bus from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
