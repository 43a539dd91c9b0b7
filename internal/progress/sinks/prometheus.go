package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// PrometheusSink turns progress events into harvester metrics.
type PrometheusSink struct {
	pages          *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec
	records        prometheus.Counter
	sessionsActive prometheus.Gauge
	batches        prometheus.Counter
	challenges     *prometheus.CounterVec
	proxies        prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Scraped result pages partitioned by outcome.",
		}, []string{"outcome"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_page_duration_seconds",
			Help:    "Wall time per page session partitioned by outcome.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Listing records extracted.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_sessions_active",
			Help: "Browser sessions currently running.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_batches_total",
			Help: "Completed keyword/place batches.",
		}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_challenges_total",
			Help: "Interstitial challenges seen partitioned by result.",
		}, []string{"result"}),
		proxies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_proxies_loaded",
			Help: "Proxy endpoints in the most recently loaded pool.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.pages, s.pageDuration, s.records, s.sessionsActive, s.batches, s.challenges, s.proxies,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageStart:
			s.sessionsActive.Inc()
		case progress.StagePageDone:
			s.sessionsActive.Dec()
			s.pages.WithLabelValues(evt.Outcome).Inc()
			if evt.Dur > 0 {
				s.pageDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
			}
			if evt.Count > 0 {
				s.records.Add(float64(evt.Count))
			}
		case progress.StageBatchDone:
			s.batches.Inc()
		case progress.StageChallenge:
			result := evt.Outcome
			if result == "" {
				result = "unknown"
			}
			s.challenges.WithLabelValues(result).Inc()
		case progress.StageProxyLoad:
			s.proxies.Set(float64(evt.Count))
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
