// Package observability bundles the Prometheus metrics exposed by the
// three NexPlane processes.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metrics shared across the tracker, telescope
// server, and ephemeris server. Unused members simply stay at zero.
type Collector struct {
	gatherer prometheus.Gatherer

	// SBS-1 ingest.
	SBS1Lines   *prometheus.CounterVec // by source
	SBS1Dropped *prometheus.CounterVec // by reason

	// RPC bridge traffic.
	RPCRequests *prometheus.CounterVec // by method, outcome
	RPCReconnects prometheus.Counter

	// Mount I/O.
	MountRoundTrip prometheus.Histogram

	// Controller.
	ControllerState prometheus.Gauge // numeric tracking.State

	// Ephemeris server.
	SatellitesTracked prometheus.Gauge
	SBS1Emitted       prometheus.Counter
}

// NewCollector registers the NexPlane metrics against reg, defaulting to
// the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		SBS1Lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbs1_lines_total",
			Help: "SBS-1 lines received, labeled by source address.",
		}, []string{"source"}),
		SBS1Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbs1_dropped_total",
			Help: "SBS-1 updates dropped, labeled by reason (truncated, non_finite, stale_time, stale_position, zero_altitude); every line that fails to decode, out-of-range coordinates included, counts as truncated.",
		}, []string{"reason"}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Bridge RPC requests, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_reconnects_total",
			Help: "Bridge transport reconnect attempts.",
		}),
		MountRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mount_round_trip_seconds",
			Help:    "Latency of one mount command/response pair.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ControllerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "controller_state",
			Help: "Pointing controller state (0 idle, 1 slewing, 2 tracking, 3 sun lockout).",
		}),
		SatellitesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ephemeris_satellites",
			Help: "Satellites loaded from TLE files.",
		}),
		SBS1Emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ephemeris_sbs1_emitted_total",
			Help: "SBS-1 messages emitted by the ephemeris server.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.SBS1Lines, c.SBS1Dropped,
		c.RPCRequests, c.RPCReconnects,
		c.MountRoundTrip, c.ControllerState,
		c.SatellitesTracked, c.SBS1Emitted,
	} {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler serving the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve starts a metrics HTTP listener on addr if addr is non-empty.
// Errors after startup are ignored; metrics are best-effort.
func (c *Collector) Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
