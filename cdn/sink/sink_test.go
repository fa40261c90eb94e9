package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/edgepub/edgepub/cdn"
	"github.com/edgepub/edgepub/cfg"
)

func TestDefaultKafkaConfig(t *testing.T) {
	brokers := []string{"localhost:9092", "localhost:9093"}
	config := DefaultKafkaConfig(brokers)

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}

	if config.BatchSize != 100 {
		t.Errorf("expected batch size 100, got %d", config.BatchSize)
	}

	if config.BatchBytes != 1048576 {
		t.Errorf("expected batch bytes 1048576, got %d", config.BatchBytes)
	}

	if config.RequiredAcks != kafka.RequireAll {
		t.Errorf("expected RequireAll acks, got %v", config.RequiredAcks)
	}
}

func TestNewKafkaSink(t *testing.T) {
	config := KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    50,
		BatchBytes:   2048,
		RequiredAcks: kafka.RequireOne,
	}

	sink, err := NewKafkaSink(config)
	if err != nil {
		t.Fatalf("unexpected error creating sink: %v", err)
	}
	defer sink.Close()

	if sink.writer.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", sink.writer.BatchSize)
	}

	if sink.writer.BatchBytes != 2048 {
		t.Errorf("expected batch bytes 2048, got %d", sink.writer.BatchBytes)
	}

	if sink.writer.Async {
		t.Error("expected Async to be false for durability")
	}
}

func TestNewKafkaSinkEmptyBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	if err == nil {
		t.Error("expected error for empty brokers, got nil")
	}
}

func TestRegisteredSinks(t *testing.T) {
	registered := map[string]bool{}
	for _, name := range cdn.RegisteredSinks() {
		registered[name] = true
	}

	for _, name := range []string{"kafka", "nats", "log", "mock"} {
		if !registered[name] {
			t.Errorf("expected sink %q to be registered", name)
		}
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	snk, err := cdn.NewSink(cfg.CDNConfiguration{Sink: "log"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := snk.(*LogSink); !ok {
		t.Errorf("expected *LogSink, got %T", snk)
	}

	snk, err = cdn.NewSink(cfg.CDNConfiguration{Sink: "kafka", Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer snk.Close()
	if _, ok := snk.(*KafkaSink); !ok {
		t.Errorf("expected *KafkaSink, got %T", snk)
	}

	if _, err := cdn.NewSink(cfg.CDNConfiguration{Sink: "nats"}); err == nil {
		t.Error("expected error for nats sink without url")
	}

	if _, err := cdn.NewSink(cfg.CDNConfiguration{Sink: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown sink type")
	}
}

func TestStreamName(t *testing.T) {
	if got := streamName("edgepub.purge.live"); got != "edgepub_purge_live" {
		t.Errorf("unexpected stream name %q", got)
	}
}

var testBatch = []cdn.PurgeRequest{
	{Env: "live", Path: "/content/a", RequestedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	{Env: "live", Path: "/content/b", URL: "https://cdn.example.com/content/b", RequestedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
}

func TestKafkaRecords(t *testing.T) {
	records, err := kafkaRecords("edgepub.purge.live", testBatch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	rec := records[1]
	if rec.Topic != "edgepub.purge.live" || string(rec.Key) != "/content/b" {
		t.Errorf("unexpected record topic/key %q/%q", rec.Topic, rec.Key)
	}
	if !rec.Time.Equal(testBatch[1].RequestedAt) {
		t.Errorf("expected record time %v, got %v", testBatch[1].RequestedAt, rec.Time)
	}
	if len(rec.Headers) != 1 || rec.Headers[0].Key != "env" || string(rec.Headers[0].Value) != "live" {
		t.Errorf("unexpected headers %+v", rec.Headers)
	}

	var decoded cdn.PurgeRequest
	if err := json.Unmarshal(rec.Value, &decoded); err != nil {
		t.Fatalf("record value is not JSON: %v", err)
	}
	if decoded != testBatch[1] {
		t.Errorf("expected %+v, got %+v", testBatch[1], decoded)
	}
}

func TestKafkaSink_EmptyBatch(t *testing.T) {
	snk, err := NewKafkaSink(DefaultKafkaConfig([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer snk.Close()

	// No records means no broker round trip
	if err := snk.Send(context.Background(), "edgepub.purge.live", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDedupID(t *testing.T) {
	a := testBatch[0].DedupID()
	if a != "live:/content/a@2024-05-01T12:00:00Z" {
		t.Errorf("unexpected dedup id %q", a)
	}
	if a == testBatch[1].DedupID() {
		t.Error("expected distinct dedup ids per path")
	}
}

func TestLogSink_Send(t *testing.T) {
	snk := &LogSink{}
	if err := snk.Send(context.Background(), "edgepub.purge.live", testBatch); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := snk.Close(); err != nil {
		t.Errorf("unexpected error closing sink: %v", err)
	}
}

func TestMockSink_Send(t *testing.T) {
	mock := &MockSink{}

	if err := mock.Send(context.Background(), "test-topic", testBatch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.Batches) != 1 || len(mock.Batches[0]) != 2 {
		t.Fatalf("expected 1 batch of 2, got %+v", mock.Batches)
	}
	if mock.Topics[0] != "test-topic" {
		t.Errorf("unexpected topic %q", mock.Topics[0])
	}
}

func TestMockSink_SendError(t *testing.T) {
	expectedErr := errors.New("send failed")
	mock := &MockSink{SendErr: expectedErr}

	err := mock.Send(context.Background(), "test-topic", testBatch)
	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}

	if len(mock.Batches) != 0 {
		t.Errorf("expected 0 batches on error, got %d", len(mock.Batches))
	}
}

func TestMockSink_PathsAndReset(t *testing.T) {
	mock := &MockSink{}

	mock.Send(context.Background(), "topic1", testBatch[:1])
	mock.Send(context.Background(), "topic2", testBatch[1:])

	paths := mock.Paths()
	if len(paths) != 2 || paths[0] != "/content/a" || paths[1] != "/content/b" {
		t.Fatalf("unexpected paths %v", paths)
	}

	mock.Reset()

	if len(mock.Batches) != 0 || len(mock.Topics) != 0 {
		t.Errorf("expected no batches after reset, got %d", len(mock.Batches))
	}
}

func TestMockSink_Concurrent(t *testing.T) {
	mock := &MockSink{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Send(context.Background(), "topic", testBatch)
		}()
	}
	wg.Wait()

	if len(mock.Paths()) != 20 {
		t.Errorf("expected 20 paths, got %d", len(mock.Paths()))
	}
}
