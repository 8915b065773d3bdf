package engine

import (
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// metrics exports composition metrics to Prometheus.
type metrics struct {
	composeDuration *promclient.HistogramVec
	composeTokens   promclient.Histogram
	degradedTotal   promclient.Counter
}

// newMetrics registers the engine's collectors. Re-registration (for example
// two engines sharing the default registerer in tests) reuses the existing
// collectors instead of failing.
func newMetrics(namespace string, reg promclient.Registerer) (*metrics, error) {
	if namespace == "" {
		namespace = "weaver"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	m := &metrics{
		composeDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "compose_duration_seconds",
			Help:      "Latency of context composition requests.",
			Buckets:   promclient.DefBuckets,
		}, []string{"status"}),
		composeTokens: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "composed_tokens",
			Help:      "Token count of successfully composed contexts.",
			Buckets:   promclient.ExponentialBuckets(256, 2, 8),
		}),
		degradedTotal: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "compose_degraded_total",
			Help:      "Count of compositions served with absorbed provider failures.",
		}),
	}
	if err := reg.Register(m.composeDuration); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.HistogramVec); ok {
				m.composeDuration = existing
			} else {
				return nil, fmt.Errorf("register compose duration histogram: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register compose duration histogram: %w", err)
		}
	}
	if err := reg.Register(m.composeTokens); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Histogram); ok {
				m.composeTokens = existing
			} else {
				return nil, fmt.Errorf("register composed tokens histogram: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register composed tokens histogram: %w", err)
		}
	}
	if err := reg.Register(m.degradedTotal); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Counter); ok {
				m.degradedTotal = existing
			} else {
				return nil, fmt.Errorf("register degraded counter: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register degraded counter: %w", err)
		}
	}
	return m, nil
}

// recordCompose tracks one composition request.
func (m *metrics) recordCompose(duration time.Duration, tokens int, degraded bool, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.composeDuration.WithLabelValues(status).Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.composeTokens.Observe(float64(tokens))
	if degraded {
		m.degradedTotal.Inc()
	}
}
