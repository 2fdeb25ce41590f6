// Package metrics carries lonet's observability counters. It is a
// pure instrumentation layer per SPEC_FULL.md §4.12: disabling or
// ignoring it never changes program behavior, mirroring the way the
// teacher repo keeps its Prometheus registry (see caddy's context.go
// initMetrics) orthogonal to request handling.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the counters/gauges a subnetwork reports against.
// The zero value is not usable; construct with New.
type Collector struct {
	HostsOpen       prometheus.Gauge
	Dials           prometheus.Counter
	Accepts         prometheus.Counter
	AcceptsRefused  prometheus.Counter
	RegistryErrors  prometheus.Counter
	HandshakeErrors prometheus.Counter
}

// New creates a Collector registered against reg. If reg is nil, a
// private registry is used, so metrics calls are always safe no-ops
// from the caller's point of view.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		HostsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lonet_hosts_open",
			Help: "Number of hosts currently open on this subnetwork.",
		}),
		Dials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lonet_dials_total",
			Help: "Total number of dials from this subnetwork that established a connection.",
		}),
		Accepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lonet_accepts_total",
			Help: "Total number of inbound connections successfully accepted.",
		}),
		AcceptsRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lonet_accepts_refused_total",
			Help: "Total number of inbound connections refused (no listener).",
		}),
		RegistryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lonet_registry_errors_total",
			Help: "Total number of registry operations that returned an error.",
		}),
		HandshakeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lonet_handshake_errors_total",
			Help: "Total number of lonet text handshakes that failed, on either the dialing or the accepting side.",
		}),
	}
	reg.MustRegister(c.HostsOpen, c.Dials, c.Accepts, c.AcceptsRefused, c.RegistryErrors, c.HandshakeErrors)
	return c
}
