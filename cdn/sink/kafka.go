package sink

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/edgepub/edgepub/cdn"
	"github.com/edgepub/edgepub/cfg"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
)

func init() {
	cdn.RegisterSink("kafka", func(config cfg.CDNConfiguration) (cdn.Sink, error) {
		kc := DefaultKafkaConfig(config.Brokers)
		if config.BatchSize > 0 {
			kc.BatchSize = config.BatchSize
		}
		return NewKafkaSink(kc)
	})
}

// KafkaSink writes purge requests to Kafka, one record per path. Records are
// keyed by path so repeated purges of a path stay ordered on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string
	BatchSize        int   // Records per produce request
	BatchBytes       int64 // Max bytes per produce request
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

// DefaultKafkaConfig returns a KafkaConfig acknowledged by all replicas
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a KafkaSink. The writer is synchronous so a batch is
// only reported sent once the brokers acknowledged it.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes <= 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              config.BatchSize,
			BatchBytes:             config.BatchBytes,
			RequiredAcks:           config.RequiredAcks,
			AllowAutoTopicCreation: config.AutoCreateTopics,
		},
	}, nil
}

// Send writes batch to topic
func (k *KafkaSink) Send(ctx context.Context, topic string, batch []cdn.PurgeRequest) error {
	records, err := kafkaRecords(topic, batch)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := k.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("kafka write to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func kafkaRecords(topic string, batch []cdn.PurgeRequest) ([]kafka.Message, error) {
	records := make([]kafka.Message, 0, len(batch))
	for _, req := range batch {
		value, err := req.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode purge request for %s: %w", req.Path, err)
		}
		records = append(records, kafka.Message{
			Topic: topic,
			Key:   []byte(req.Path),
			Value: value,
			Time:  req.RequestedAt,
			Headers: []kafka.Header{
				{Key: "env", Value: []byte(req.Env)},
			},
		})
	}
	return records, nil
}
