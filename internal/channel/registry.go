package channel

import (
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/logging"
)

// Factory builds a Dialer from the channel config.
type Factory func(cfg config.ChannelConfig, client ClientInfo, log *logging.Logger) (Dialer, error)

// Registry maps transport names to dialer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	log       *logging.Logger
}

// NewRegistry creates an empty transport registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		log:       log.Sub("transports"),
	}
}

// DefaultRegistry knows the websocket and nats transports.
func DefaultRegistry(log *logging.Logger) *Registry {
	r := NewRegistry(log)
	r.Register("websocket", func(cfg config.ChannelConfig, client ClientInfo, _ *logging.Logger) (Dialer, error) {
		return NewWSDialer(cfg.URL, cfg.Token, client), nil
	})
	r.Register("nats", func(cfg config.ChannelConfig, client ClientInfo, log *logging.Logger) (Dialer, error) {
		return NewNATSDialer(cfg.NATS.Servers, cfg.NATS.SubjectPrefix, cfg.Token, client, log), nil
	})
	return r
}

// Register adds or replaces a transport.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	r.log.Debug().Str("transport", name).Msg("transport registered")
}

// Get returns the factory for name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// List returns registered transport names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of registered transports.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Dialer builds the dialer named by cfg.Transport.
func (r *Registry) Dialer(cfg config.ChannelConfig, client ClientInfo) (Dialer, error) {
	name := cfg.Transport
	if name == "" {
		name = "websocket"
	}
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown transport %q (have %v)", name, r.List())
	}
	return f(cfg, client, r.log)
}
