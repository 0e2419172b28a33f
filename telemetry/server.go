// Package telemetry exposes JSON-only ops endpoints (/healthz, /metrics) —
// explicitly not the HTML admin interface out of scope for this system. It
// mirrors the teacher's HealthServer (scheduler/health.go) with go-chi/chi
// routing and prometheus/client_golang gauges/counters in place of the
// teacher's hand-rolled JSON struct. See SPEC_FULL §4.9.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the fixed set of prometheus collectors the controller updates
// every tick.
type Metrics struct {
	OutputsOn           *prometheus.GaugeVec
	TickDuration        prometheus.Histogram
	DeviceWorkerErrors  prometheus.Counter
	PricingRefreshFails prometheus.Counter
	TicksTotal          prometheus.Counter
}

// NewMetrics registers every collector against a private registry (not the
// global default, so multiple Servers in tests don't collide).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		OutputsOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "powerctl_output_on",
			Help: "1 if the named output is currently commanded on, else 0.",
		}, []string{"output"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powerctl_tick_duration_seconds",
			Help:    "Wall-clock duration of one controller tick.",
			Buckets: prometheus.DefBuckets,
		}),
		DeviceWorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powerctl_device_worker_errors_total",
			Help: "Total sequence failures reported by the device worker.",
		}),
		PricingRefreshFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powerctl_pricing_refresh_failures_total",
			Help: "Total failed tariff refresh attempts.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powerctl_ticks_total",
			Help: "Total controller ticks processed.",
		}),
	}
	reg.MustRegister(m.OutputsOn, m.TickDuration, m.DeviceWorkerErrors, m.PricingRefreshFails, m.TicksTotal)
	return m
}

// HealthStatus is what /healthz reports.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// HealthSource lets the Server ask the controller what to report without
// importing it (the controller package imports telemetry, not vice versa).
type HealthSource interface {
	Healthy() bool
}

// Server is the JSON-only ops HTTP surface.
type Server struct {
	http    *http.Server
	started time.Time
	source  HealthSource
	logger  *log.Logger
}

// NewServer builds a Server bound to addr (e.g. ":9090"); reg is the
// registry NewMetrics populated.
func NewServer(addr string, reg *prometheus.Registry, source HealthSource, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{started: time.Now(), source: source, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server in the background; returns once listening or on
// immediate bind failure.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("telemetry: listen on %s: %w", s.http.Addr, err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.source != nil && !s.source.Healthy() {
		status = "degraded"
	}
	resp := HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
