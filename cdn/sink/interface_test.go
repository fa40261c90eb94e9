package sink

import "github.com/edgepub/edgepub/cdn"

// Compile-time interface verification
var (
	_ cdn.Sink = (*KafkaSink)(nil)
	_ cdn.Sink = (*NatsSink)(nil)
	_ cdn.Sink = (*LogSink)(nil)
	_ cdn.Sink = (*MockSink)(nil)
)
