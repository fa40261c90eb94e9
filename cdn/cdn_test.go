package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/planner"
)

type recordingSink struct {
	mu       sync.Mutex
	topics   []string
	keys     []string
	values   [][]byte
	batches  int
	failures int
	err      error
	closed   bool
}

func (s *recordingSink) Send(_ context.Context, topic string, batch []PurgeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.batches++
	for _, req := range batch {
		value, err := req.Encode()
		if err != nil {
			return err
		}
		s.topics = append(s.topics, topic)
		s.keys = append(s.keys, req.Path)
		s.values = append(s.values, value)
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func withEnvironments(t *testing.T, envs ...cfg.Environment) {
	t.Helper()
	saved := cfg.Config.Environments
	cfg.Config.Environments = envs
	t.Cleanup(func() { cfg.Config.Environments = saved })
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestFlusher(t *testing.T, snk Sink, exclude ...string) *Flusher {
	t.Helper()
	filter, err := NewGlobFilter(exclude)
	require.NoError(t, err)
	f, err := NewFlusher(FlusherConfig{
		Sink:         snk,
		Filter:       filter,
		TopicPrefix:  "edgepub.purge",
		RetryInitial: time.Millisecond,
		MaxRetries:   3,
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return f
}

func TestGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"/content/*/repodata/*", "**.iso"})
	require.NoError(t, err)

	assert.True(t, filter.Excluded("/content/rhel/repodata/repomd.xml"))
	assert.False(t, filter.Excluded("/content/rhel/8/repodata/repomd.xml"))
	assert.True(t, filter.Excluded("/content/rhel/8/iso/boot.iso"))
	assert.False(t, filter.Excluded("/content/rhel/8/Packages/a.rpm"))

	empty, err := NewGlobFilter(nil)
	require.NoError(t, err)
	assert.False(t, empty.Excluded("/anything"))
}

func TestGlobFilter_InvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"/content/[a"})
	assert.Error(t, err)
}

func TestExpandAliases(t *testing.T) {
	aliases := []planner.Alias{
		{Src: "/content/dist/rhel8/8", Dest: "/content/dist/rhel8/8.5"},
		{Src: "/content/origin", Dest: "/origin", ExcludePaths: []string{"/rpms/"}},
	}

	out := ExpandAliases([]string{
		"/content/dist/rhel8/8/repodata/repomd.xml",
		"/origin/files/a",
		"/origin/rpms/b",
		"/content/dist/rhel8/8.5/x",
		"/content/dist/rhel8/80/y",
		"",
	}, aliases)

	assert.Equal(t, []string{
		"/content/dist/rhel8/8.5/repodata/repomd.xml",
		"/content/dist/rhel8/8.5/x",
		"/content/dist/rhel8/8/repodata/repomd.xml",
		"/content/dist/rhel8/8/x",
		"/content/dist/rhel8/80/y",
		"/content/origin/files/a",
		"/origin/files/a",
		"/origin/rpms/b",
	}, out)
}

func TestFlusher_Flush(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live", CDNURL: "https://cdn.example.com/", CDNKeyID: "k1"})

	snk := &recordingSink{}
	f := newTestFlusher(t, snk, "**/repodata/*")

	err := f.Flush(context.Background(), []string{"/content/b", "/content/a", "/content/x/repodata/repomd.xml"}, "live",
		[]planner.Alias{{Src: "/content/a", Dest: "/alias/a"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"/alias/a", "/content/a", "/content/b"}, snk.keys)
	for _, topic := range snk.topics {
		assert.Equal(t, "edgepub.purge.live", topic)
	}

	var req PurgeRequest
	require.NoError(t, json.Unmarshal(snk.values[1], &req))
	assert.Equal(t, PurgeRequest{
		Env:         "live",
		Path:        "/content/a",
		URL:         "https://cdn.example.com/content/a",
		KeyID:       "k1",
		RequestedAt: fixedNow,
	}, req)
}

func TestFlusher_Batches(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	snk := &recordingSink{}
	f, err := NewFlusher(FlusherConfig{Sink: snk, BatchSize: 2, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	require.NoError(t, f.Flush(context.Background(), []string{"/a", "/b", "/c", "/d", "/e"}, "live", nil))
	assert.Equal(t, 3, snk.batches)
	assert.Equal(t, []string{"/a", "/b", "/c", "/d", "/e"}, snk.keys)
	assert.Equal(t, "live", snk.topics[0])
}

func TestFlusher_NothingToSend(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	snk := &recordingSink{}
	require.NoError(t, newTestFlusher(t, snk, "/excluded/**").Flush(context.Background(), []string{"/excluded/a"}, "live", nil))
	assert.Zero(t, snk.batches)
}

func TestFlusher_UnknownEnvironment(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	snk := &recordingSink{}
	err := newTestFlusher(t, snk).Flush(context.Background(), []string{"/a"}, "qa", nil)
	assert.ErrorIs(t, err, cfg.ErrUnknownEnvironment)
	assert.Empty(t, snk.keys)
}

func TestFlusher_RetriesTransientFailures(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	snk := &recordingSink{failures: 2}
	err := newTestFlusher(t, snk).Flush(context.Background(), []string{"/a"}, "live", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, snk.keys)
}

func TestFlusher_GivesUp(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	snk := &recordingSink{err: errors.New("broker down")}
	err := newTestFlusher(t, snk).Flush(context.Background(), []string{"/a"}, "live", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted max retries (3)")
}

func TestFlusher_ContextCancelled(t *testing.T) {
	withEnvironments(t, cfg.Environment{Name: "live"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snk := &recordingSink{err: errors.New("broker down")}
	err := newTestFlusher(t, snk).Flush(ctx, []string{"/a"}, "live", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFlusher_RequiresSink(t *testing.T) {
	_, err := NewFlusher(FlusherConfig{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	snk := &recordingSink{}
	RegisterSink("recording-test", func(cfg.CDNConfiguration) (Sink, error) { return snk, nil })

	got, err := NewSink(cfg.CDNConfiguration{Sink: "recording-test"})
	require.NoError(t, err)
	assert.Same(t, snk, got)
	assert.Contains(t, RegisteredSinks(), "recording-test")

	_, err = NewSink(cfg.CDNConfiguration{Sink: "missing"})
	assert.Error(t, err)

	f, err := NewFlusherFromConfig(cfg.CDNConfiguration{Sink: "recording-test", TopicPrefix: "p"})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.True(t, snk.closed)
}
