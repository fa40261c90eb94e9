package sink

import (
	"context"
	"sync"

	"github.com/edgepub/edgepub/cdn"
	"github.com/edgepub/edgepub/cfg"
)

func init() {
	cdn.RegisterSink("mock", func(cfg.CDNConfiguration) (cdn.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records purge requests in memory
type MockSink struct {
	mu      sync.Mutex
	Batches [][]cdn.PurgeRequest
	Topics  []string
	SendErr error
}

// Send records batch unless SendErr is set
func (m *MockSink) Send(_ context.Context, topic string, batch []cdn.PurgeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	m.Batches = append(m.Batches, append([]cdn.PurgeRequest(nil), batch...))
	m.Topics = append(m.Topics, topic)
	return nil
}

// Paths returns every recorded path in send order
func (m *MockSink) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for _, batch := range m.Batches {
		for _, req := range batch {
			paths = append(paths, req.Path)
		}
	}
	return paths
}

// Reset clears all recorded batches
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches, m.Topics = nil, nil
}

func (m *MockSink) Close() error {
	return nil
}
