package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using
// Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	authAttemptsTotal *prometheus.CounterVec

	framesTotal *prometheus.CounterVec

	transfersRequestedTotal prometheus.Counter
	transfersAcceptedTotal  prometheus.Counter
	transfersDeniedTotal    prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all
// metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securedrop_connections_total",
			Help: "Total number of coordinator connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "securedrop_connections_active",
			Help: "Number of currently active coordinator connections.",
		}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securedrop_auth_attempts_total",
			Help: "Total number of register and login attempts.",
		}, []string{"kind", "result"}),

		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securedrop_frames_total",
			Help: "Total number of frames handled, by tag.",
		}, []string{"tag"}),

		transfersRequestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securedrop_transfers_requested_total",
			Help: "Total number of transfer requests enqueued.",
		}),
		transfersAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securedrop_transfers_accepted_total",
			Help: "Total number of transfer requests accepted.",
		}),
		transfersDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securedrop_transfers_denied_total",
			Help: "Total number of transfer requests denied.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.authAttemptsTotal,
		c.framesTotal,
		c.transfersRequestedTotal,
		c.transfersAcceptedTotal,
		c.transfersDeniedTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// AuthAttempt records a register or login attempt.
func (c *PrometheusCollector) AuthAttempt(kind string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// FrameHandled counts one handled frame by tag.
func (c *PrometheusCollector) FrameHandled(tag string) {
	c.framesTotal.WithLabelValues(tag).Inc()
}

// TransferRequested counts one enqueued transfer request.
func (c *PrometheusCollector) TransferRequested() {
	c.transfersRequestedTotal.Inc()
}

// TransferAccepted counts one accepted transfer request.
func (c *PrometheusCollector) TransferAccepted() {
	c.transfersAcceptedTotal.Inc()
}

// TransferDenied counts one denied transfer request.
func (c *PrometheusCollector) TransferDenied() {
	c.transfersDeniedTotal.Inc()
}

// PrometheusServer serves the metrics endpoint over HTTP.
type PrometheusServer struct {
	srv *http.Server
}

// NewPrometheusServer creates a metrics server for the default
// registry at the given address and path.
func NewPrometheusServer(address, path string) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &PrometheusServer{
		srv: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until the context is canceled.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
