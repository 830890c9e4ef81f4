package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "randchat"

// Metrics counts client traffic on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesIn         prometheus.Counter
	FramesOut        *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	Reconnects       prometheus.Counter
	Matches          prometheus.Counter
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	Connected        prometheus.Gauge
}

// NewMetrics creates the client metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FramesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the chat server",
		}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to the chat server by command type",
		}, []string{"type"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped at the decoder",
		}, []string{"reason"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection dials after an unexpected close",
		}),
		Matches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "matches_total",
			Help:      "Partners assigned by the server",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Chat messages sent to a partner",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Chat messages received from a partner",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while the websocket is open",
		}),
	}
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
