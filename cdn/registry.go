package cdn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/edgepub/edgepub/cfg"
)

// SinkFactory is a function that creates a Sink from the CDN configuration
type SinkFactory func(cfg.CDNConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates the sink named by config.Sink
func NewSink(config cfg.CDNConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Sink)
	}

	return factory(config)
}

// RegisteredSinks lists the registered sink types
func RegisteredSinks() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(sinkFactories))
	for name := range sinkFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
