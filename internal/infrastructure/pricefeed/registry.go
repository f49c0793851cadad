// Package pricefeed is the provider registry for tick sources. Provider packages
// register themselves from init(); the service context looks them up by name.
package pricefeed

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
)

// Options carries everything a provider may need. Providers ignore what they don't use.
type Options struct {
	URL      string        // websocket base url
	Quote    string        // quote currency for venue pairs, e.g. USDT
	Redis    *redis.Client // pub/sub provider
	Interval time.Duration // synthetic provider tick interval
}

type Factory func(opts Options) (port.TickSource, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register is called by provider packages from init().
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("provider", name).Msg("invalid tick source factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		log.Warn().Str("provider", name).Msg("tick source factory already registered, overwriting")
	}
	registry[name] = factory
}

func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := registry[name]
	return factory, ok
}

// New builds the named provider.
func New(name string, opts Options) (port.TickSource, error) {
	factory, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("tick source provider not registered: %s (have %v)", name, Names())
	}
	return factory(opts)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
