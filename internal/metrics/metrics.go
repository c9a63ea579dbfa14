// Package metrics instruments the connection manager and dispatcher
// with Prometheus collectors, following the example pack's own use of
// github.com/prometheus/client_golang for service-level gauges and
// counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Dispatcher holds the operation dispatcher's (§4.D) instrumentation.
type Dispatcher struct {
	InFlight prometheus.Gauge
	Retries  prometheus.Counter
	Timeouts prometheus.Counter
}

// NewDispatcher registers a Dispatcher's collectors against reg. If
// reg is nil, the default global registry is used.
func NewDispatcher(reg prometheus.Registerer) *Dispatcher {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	d := &Dispatcher{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventlogclient",
			Subsystem: "dispatcher",
			Name:      "operations_in_flight",
			Help:      "Number of operations currently awaiting a response.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlogclient",
			Subsystem: "dispatcher",
			Name:      "operation_retries_total",
			Help:      "Number of times an operation was retried after a transient server outcome.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlogclient",
			Subsystem: "dispatcher",
			Name:      "operation_timeouts_total",
			Help:      "Number of operations that hit their local deadline while still in flight.",
		}),
	}
	reg.MustRegister(d.InFlight, d.Retries, d.Timeouts)
	return d
}

// Connection holds the connection manager's (§4.C) instrumentation.
type Connection struct {
	Reconnects    prometheus.Counter
	HeartbeatMiss prometheus.Counter
	State         prometheus.Gauge
}

// NewConnection registers a Connection's collectors against reg. If
// reg is nil, the default global registry is used.
func NewConnection(reg prometheus.Registerer) *Connection {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Connection{
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlogclient",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Number of times the connection manager re-established the socket.",
		}),
		HeartbeatMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlogclient",
			Subsystem: "connection",
			Name:      "heartbeat_timeouts_total",
			Help:      "Number of heartbeat timeouts observed.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventlogclient",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state: 0=Idle 1=Connecting 2=Connected 3=Terminated.",
		}),
	}
	reg.MustRegister(c.Reconnects, c.HeartbeatMiss, c.State)
	return c
}
