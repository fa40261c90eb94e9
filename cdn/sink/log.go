package sink

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cdn"
	"github.com/edgepub/edgepub/cfg"
)

func init() {
	cdn.RegisterSink("log", func(cfg.CDNConfiguration) (cdn.Sink, error) {
		return &LogSink{}, nil
	})
}

// LogSink writes purge requests to the process log instead of a broker.
// It is the default for deployments without a CDN purge consumer.
type LogSink struct{}

func (l *LogSink) Send(_ context.Context, topic string, batch []cdn.PurgeRequest) error {
	for _, req := range batch {
		log.Info().
			Str("topic", topic).
			Str("env", req.Env).
			Str("path", req.Path).
			Str("url", req.URL).
			Msg("CDN purge requested")
	}
	return nil
}

func (l *LogSink) Close() error {
	return nil
}
