// Package tsdb writes per-reply probe samples to a time-series backend:
// one write.Point per probe result, tagged by target identity, fielded
// with the target's current average delay and loss.
package tsdb

import (
	"time"

	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Table names the measurement a Sample is written into.
const Table = "apinger_probe"

// Sample is one probe observation ready to be written.
type Sample struct {
	TargetName string
	SourceIP   string
	Timestamp  time.Time

	DelayKnown bool
	DelayMS    float64

	LossKnown bool
	LossPct   float64

	Lost bool
}

// Writer accepts Samples for asynchronous export. It matches the subset of
// influxdb2api.WriteAPI's shape that apinger needs, so a no-op stand-in can
// be used when no InfluxDB endpoint is configured.
type Writer interface {
	Write(s Sample)
	Flush()
}

// influxWriter adapts influxdb2api.WriteAPI.
type influxWriter struct {
	api influxdb2api.WriteAPI
}

// NewInfluxWriter wraps an already-configured influxdb2api.WriteAPI.
func NewInfluxWriter(api influxdb2api.WriteAPI) Writer {
	return &influxWriter{api: api}
}

func (w *influxWriter) Write(s Sample) {
	tags := map[string]string{
		"target": s.TargetName,
	}
	if s.SourceIP != "" {
		tags["source_ip"] = s.SourceIP
	}

	fields := map[string]any{
		"lost": s.Lost,
	}
	if s.DelayKnown {
		fields["delay_ms"] = s.DelayMS
	}
	if s.LossKnown {
		fields["loss_pct"] = s.LossPct
	}

	w.api.WritePoint(write.NewPoint(Table, tags, fields, s.Timestamp))
}

func (w *influxWriter) Flush() {
	w.api.Flush()
}

// noopWriter discards every sample; used when no influx_url is configured.
type noopWriter struct{}

// NewNoop returns a Writer that discards all samples.
func NewNoop() Writer { return noopWriter{} }

func (noopWriter) Write(Sample) {}
func (noopWriter) Flush()       {}
