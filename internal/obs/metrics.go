package obs

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// TopicMetrics holds the counters/histograms the topic reader and writer
// emit through the shared meter provider (§10 "Reader/writer metrics" —
// client-side self-observation, distinct from the Non-goal "administrative
// DDL").
type TopicMetrics struct {
	BufferOccupancy metric.Int64UpDownCounter
	InflightCount   metric.Int64UpDownCounter
	CommitLatency   metric.Float64Histogram
	ReconnectCount  metric.Int64Counter
}

// NewTopicMetrics creates the instrument set from mp, namespaced under
// "ydb.topic".
func NewTopicMetrics(mp metric.MeterProvider) (*TopicMetrics, error) {
	meter := mp.Meter("ydb.topic")

	buf, err := meter.Int64UpDownCounter("ydb.topic.buffer_bytes",
		metric.WithDescription("bytes currently held in the reader/writer buffer window"))
	if err != nil {
		return nil, err
	}
	inflight, err := meter.Int64UpDownCounter("ydb.topic.inflight_count",
		metric.WithDescription("messages currently inflight on the stream"))
	if err != nil {
		return nil, err
	}
	commitLatency, err := meter.Float64Histogram("ydb.topic.commit_latency_ms",
		metric.WithDescription("time from Commit() call to server acknowledgement"))
	if err != nil {
		return nil, err
	}
	reconnect, err := meter.Int64Counter("ydb.topic.reconnect_count",
		metric.WithDescription("number of stream reconnects"))
	if err != nil {
		return nil, err
	}

	return &TopicMetrics{
		BufferOccupancy: buf,
		InflightCount:   inflight,
		CommitLatency:   commitLatency,
		ReconnectCount:  reconnect,
	}, nil
}

// NoopTopicMetrics returns a metrics set backed by the no-op meter
// provider, the default when a reader/writer is constructed without
// obs wiring.
func NoopTopicMetrics() *TopicMetrics {
	m, _ := NewTopicMetrics(noop.NewMeterProvider())
	return m
}
