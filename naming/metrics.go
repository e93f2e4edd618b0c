package naming

import (
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

// clientMetrics 客户端内置指标
type clientMetrics struct {
	state            metrics.Gauge
	reconnects       metrics.Counter
	dialDuration     metrics.Histogram
	dispatched       metrics.Counter
	listenerFailures metrics.Counter
	subscriptions    metrics.Gauge
}

func newClientMetrics(meter metrics.Meter) (*clientMetrics, error) {
	m := &clientMetrics{}
	var err error

	if m.state, err = meter.Gauge(
		"naming_connection_state",
		"Current connection state (0 connecting, 1 connected, 2 disconnected, 3 reconnecting, 4 closed)",
	); err != nil {
		return nil, xerrors.Wrap(err, "create connection state gauge")
	}
	if m.reconnects, err = meter.Counter(
		"naming_reconnect_attempts_total",
		"Number of reconnect attempts by result",
	); err != nil {
		return nil, xerrors.Wrap(err, "create reconnect counter")
	}
	if m.dialDuration, err = meter.Histogram(
		"naming_dial_duration_seconds",
		"Time spent establishing a session",
		metrics.WithUnit("s"),
	); err != nil {
		return nil, xerrors.Wrap(err, "create dial duration histogram")
	}
	if m.dispatched, err = meter.Counter(
		"naming_events_dispatched_total",
		"Number of events delivered to listeners by type",
	); err != nil {
		return nil, xerrors.Wrap(err, "create dispatched counter")
	}
	if m.listenerFailures, err = meter.Counter(
		"naming_listener_failures_total",
		"Number of listener callbacks that panicked",
	); err != nil {
		return nil, xerrors.Wrap(err, "create listener failures counter")
	}
	if m.subscriptions, err = meter.Gauge(
		"naming_subscriptions",
		"Number of active subscriptions",
	); err != nil {
		return nil, xerrors.Wrap(err, "create subscriptions gauge")
	}
	return m, nil
}
