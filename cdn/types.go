// Package cdn invalidates cached content. Paths are expanded across aliases,
// filtered, and published as purge requests to a sink which the CDN purge
// service consumes.
package cdn

import (
	"context"
	"encoding/json"
	"time"
)

// PurgeRequest asks the CDN to drop its cached copy of one path
type PurgeRequest struct {
	Env         string    `json:"env"`
	Path        string    `json:"path"`
	URL         string    `json:"url,omitempty"`
	KeyID       string    `json:"key_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Encode returns the wire form of the request
func (r PurgeRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DedupID identifies one request to brokers that drop duplicate deliveries
func (r PurgeRequest) DedupID() string {
	return r.Env + ":" + r.Path + "@" + r.RequestedAt.UTC().Format(time.RFC3339Nano)
}

// Sink delivers purge requests to the CDN purge consumer
type Sink interface {
	// Send delivers one batch of requests on topic. A batch either fails as
	// a whole or is retried as a whole; consumers must tolerate repeats.
	Send(ctx context.Context, topic string, batch []PurgeRequest) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter determines whether a path is excluded from flushing
type Filter interface {
	// Excluded returns true if the path must never be flushed
	Excluded(path string) bool
}
