package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/edgepub/edgepub/cdn"
	"github.com/edgepub/edgepub/cfg"
)

// purgeStreamMaxAge bounds how long unconsumed purge requests are retained
const purgeStreamMaxAge = 24 * time.Hour

func init() {
	cdn.RegisterSink("nats", func(config cfg.CDNConfiguration) (cdn.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes purge requests to a JetStream work queue per topic.
// Each message carries a Nats-Msg-Id so redelivered batches are dropped by
// the stream's duplicate window.
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *xsync.MapOf[string, struct{}]
}

// NewNatsSink connects to url and prepares a JetStream context
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("edgepub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: xsync.NewMapOf[string, struct{}]()}, nil
}

// Send publishes every request in batch to subject topic
func (n *NatsSink) Send(ctx context.Context, topic string, batch []cdn.PurgeRequest) error {
	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	for _, req := range batch {
		data, err := req.Encode()
		if err != nil {
			return fmt.Errorf("encode purge request for %s: %w", req.Path, err)
		}

		msg := &nats.Msg{
			Subject: topic,
			Data:    data,
			Header: nats.Header{
				"Edgepub-Path": []string{req.Path},
				"Edgepub-Env":  []string{req.Env},
			},
		}
		if _, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(req.DedupID())); err != nil {
			return fmt.Errorf("failed to publish %s to %s: %w", req.Path, topic, err)
		}
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	name := streamName(topic)
	if _, ok := n.streams.Load(name); ok {
		return nil
	}

	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    purgeStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	n.streams.Store(name, struct{}{})
	return nil
}

// Close closes the NATS connection
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// streamName derives a JetStream stream name from a subject, which may not
// contain dots.
func streamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}
