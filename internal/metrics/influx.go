// Package metrics ships node power and energy readings to InfluxDB.
package metrics

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"plugwise-hub/internal/hub"
)

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// measurements maps property keys to their measurement name. Properties not
// listed here never reach the sink.
var measurements = map[string]string{
	"power_1s":                 "power",
	"power_8s":                 "power",
	"energy_consumption_today": "energy",
}

// Sink subscribes to property updates and writes power/energy points through
// the non-blocking write API. Write failures surface on the async error
// channel and are logged; they never block the event bus.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
	logger *slog.Logger
	unsub  func()
}

// NewSink connects the sink to the event bus. Points are batched by the
// client; Close flushes what is pending.
func NewSink(cfg Config, bus *hub.EventBus, logger *slog.Logger) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := &Sink{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger.With("component", "metrics"),
	}

	go func() {
		for err := range s.write.Errors() {
			s.logger.Warn("influx write failed", "err", err)
		}
	}()

	s.unsub = bus.On(hub.EventPropertyUpdate, func(e hub.Event) {
		u, ok := e.Data.(hub.PropertyUpdate)
		if !ok {
			return
		}
		if p, ok := pointFor(u, time.Now()); ok {
			s.write.WritePoint(p)
		}
	})
	return s
}

// pointFor builds the Influx point for a property update. Non-energy
// properties and non-numeric values are skipped.
func pointFor(u hub.PropertyUpdate, ts time.Time) (*write.Point, bool) {
	measurement, ok := measurements[u.Property]
	if !ok {
		return nil, false
	}
	value, ok := toFloat(u.Value)
	if !ok {
		return nil, false
	}
	p := influxdb2.NewPoint(measurement,
		map[string]string{"mac": u.MAC, "property": u.Property},
		map[string]any{"value": value},
		ts,
	)
	return p, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Close detaches from the bus, flushes pending points, and releases the
// client.
func (s *Sink) Close() {
	s.unsub()
	s.write.Flush()
	s.client.Close()
}
