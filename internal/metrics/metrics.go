// Package metrics exposes the Prometheus collectors for campaign dispatch and
// quota locking.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailpace/internal/backend"
	"mailpace/internal/timeseries"
)

// Options configures collector registration.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// Metrics groups the dispatch collectors. A nil *Metrics records nothing.
type Metrics struct {
	Deliveries  *prometheus.CounterVec
	QuotaDenied *prometheus.CounterVec
	LockWait    *prometheus.HistogramVec
	ServerWaits prometheus.Counter
	Campaigns   *prometheus.CounterVec
	UsageRaces  prometheus.Counter
}

// New constructs the collectors and registers them with opts.Registerer.
// Collectors already registered under the same name are reused.
func New(opts Options) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "mailpace"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(0.0005, 4, 10)
	}

	m := &Metrics{}
	var err error
	if m.Deliveries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "deliveries_total",
		Help:      "Delivery attempts partitioned by tracking status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if m.QuotaDenied, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "denied_total",
		Help:      "Quota checks that found the owner over quota, partitioned by owner kind.",
	}, []string{"owner"})); err != nil {
		return nil, err
	}
	if m.LockWait, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "lock_seconds",
		Help:      "Time spent inside quota backend lock sections, partitioned by lock mode and outcome.",
		Buckets:   buckets,
	}, []string{"mode", "outcome"})); err != nil {
		return nil, err
	}
	if m.ServerWaits, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "server_waits_total",
		Help:      "Backoff sleeps taken because every sending server was over quota.",
	})); err != nil {
		return nil, err
	}
	if m.Campaigns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "campaigns_total",
		Help:      "Finished campaign runs partitioned by final status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if m.UsageRaces, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "usage_races_total",
		Help:      "Sends whose usage was recorded after losing the quota check to another worker.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// Delivery counts one delivery attempt.
func (m *Metrics) Delivery(status string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(status).Inc()
}

// Denied counts one over-quota answer for an owner kind.
func (m *Metrics) Denied(owner string) {
	if m == nil {
		return
	}
	m.QuotaDenied.WithLabelValues(owner).Inc()
}

// ServerWait counts one exhausted-server backoff.
func (m *Metrics) ServerWait() {
	if m == nil {
		return
	}
	m.ServerWaits.Inc()
}

// CampaignFinished counts a campaign run ending in status.
func (m *Metrics) CampaignFinished(status string) {
	if m == nil {
		return
	}
	m.Campaigns.WithLabelValues(status).Inc()
}

// UsageRace counts a send recorded after its quota check lost a race.
func (m *Metrics) UsageRace() {
	if m == nil {
		return
	}
	m.UsageRaces.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type instrumented struct {
	next    backend.Backend
	metrics *Metrics
}

// InstrumentBackend observes the duration of every lock section of b.
// It returns b unchanged when m is nil.
func InstrumentBackend(b backend.Backend, m *Metrics) backend.Backend {
	if m == nil {
		return b
	}
	return instrumented{next: b, metrics: m}
}

func (i instrumented) Exclusive(ctx context.Context, key string, fn func(series *timeseries.Series) error) error {
	start := time.Now()
	err := i.next.Exclusive(ctx, key, fn)
	i.observe("exclusive", start, err)
	return err
}

func (i instrumented) Shared(ctx context.Context, key string, fn func(series timeseries.Series) error) error {
	start := time.Now()
	err := i.next.Shared(ctx, key, fn)
	i.observe("shared", start, err)
	return err
}

func (i instrumented) observe(mode string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, backend.ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	i.metrics.LockWait.WithLabelValues(mode, outcome).Observe(time.Since(start).Seconds())
}
