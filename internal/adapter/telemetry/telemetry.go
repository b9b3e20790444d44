// Package telemetry exposes engine counters and pool gauges over a
// prometheus endpoint. The collectors are passive: pool and scheduler
// state is sampled at scrape time through snapshot callbacks, so
// telemetry never holds engine locks between scrapes.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/core/ports"
	"github.com/thushan/perch/internal/logger"
)

// Snapshots provides point-in-time engine state to gauge collectors.
// Nil funcs report zero.
type Snapshots struct {
	Scheduler func() ports.SchedulerStatus
	Proxies   func() ports.ProxyStatusSnapshot
	Browsers  func() ports.BrowserStatusSnapshot
	Accounts  func() int
}

// Telemetry owns the metric registry and the optional HTTP listener
type Telemetry struct {
	registry *prometheus.Registry
	server   *http.Server
	logger   *logger.StyledLogger

	ScrapesTotal    *prometheus.CounterVec
	ScrapeDuration  prometheus.Histogram
	AlertsTriggered prometheus.Counter
	SamplesStored   prometheus.Counter
}

func New(snapshots Snapshots, log *logger.StyledLogger) *Telemetry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &Telemetry{
		registry: registry,
		logger:   log,
		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_scrapes_total",
			Help: "Completed scrape attempts by outcome.",
		}, []string{"outcome"}),
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perch_scrape_duration_seconds",
			Help:    "Wall time of one scrape attempt.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perch_alerts_triggered_total",
			Help: "Alert rules fired against ingested samples.",
		}),
		SamplesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perch_samples_stored_total",
			Help: "Samples accepted by the metrics store.",
		}),
	}
	registry.MustRegister(t.ScrapesTotal, t.ScrapeDuration, t.AlertsTriggered, t.SamplesStored)
	t.registerGauges(snapshots)
	return t
}

func (t *Telemetry) registerGauges(s Snapshots) {
	gauge := func(name, help string, value func() float64) {
		t.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name, Help: help,
		}, value))
	}

	gauge("perch_accounts_tracked", "Accounts in the registry.", func() float64 {
		if s.Accounts == nil {
			return 0
		}
		return float64(s.Accounts())
	})
	gauge("perch_queue_size", "Accounts waiting for a worker.", func() float64 {
		if s.Scheduler == nil {
			return 0
		}
		return float64(s.Scheduler().QueueSize)
	})
	gauge("perch_scrapes_running", "Scrapes currently dispatched.", func() float64 {
		if s.Scheduler == nil {
			return 0
		}
		return float64(len(s.Scheduler().Running))
	})
	gauge("perch_accounts_scheduled", "Accounts with an armed timer.", func() float64 {
		if s.Scheduler == nil {
			return 0
		}
		return float64(s.Scheduler().Scheduled)
	})
	gauge("perch_proxies_total", "Proxies registered in the pool.", func() float64 {
		if s.Proxies == nil {
			return 0
		}
		return float64(s.Proxies().Total)
	})
	gauge("perch_proxies_available", "Healthy proxies with use budget left.", func() float64 {
		if s.Proxies == nil {
			return 0
		}
		return float64(s.Proxies().Available)
	})
	gauge("perch_proxies_cooling", "Proxies resting after exhausting their budget.", func() float64 {
		if s.Proxies == nil {
			return 0
		}
		return float64(s.Proxies().Cooling)
	})
	gauge("perch_browsers_running", "Live browser instances.", func() float64 {
		if s.Browsers == nil {
			return 0
		}
		return float64(s.Browsers().Running)
	})
	gauge("perch_browser_pages_active", "Pages handed out across browsers.", func() float64 {
		if s.Browsers == nil {
			return 0
		}
		return float64(s.Browsers().Pages)
	})
}

// Handler returns the scrape handler; useful for mounting on an
// existing mux instead of running a dedicated listener
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Start brings up the dedicated metrics listener when enabled
func (t *Telemetry) Start(cfg config.MetricsConfig) error {
	if !cfg.Enabled || cfg.Address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		t.logger.Info("Telemetry listening", "address", cfg.Address)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("Telemetry listener failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the metrics listener down; safe to call when never started
func (t *Telemetry) Stop(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}
