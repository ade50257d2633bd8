package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the bridge's counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	SignalsProcessed *prometheus.CounterVec
	SignalsDropped   *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	TransportErrors  *prometheus.CounterVec
	MessagesQueued   prometheus.Counter
	MessagesFlushed  prometheus.Counter
	AutoApprovals    prometheus.Counter
	Sessions         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SignalsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "signals_processed_total",
			Help:      "Hook signals handled, by event.",
		}, []string{"event"}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "signals_dropped_total",
			Help:      "Signals skipped before handling, by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "messages_sent_total",
			Help:      "Chat messages sent, by notification category.",
		}, []string{"category"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "transport_errors_total",
			Help:      "Failed external calls after retries, by service.",
		}, []string{"service"}),
		MessagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "messages_queued_total",
			Help:      "Operator messages held because the session was busy.",
		}),
		MessagesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "messages_flushed_total",
			Help:      "Queued operator messages delivered to a session.",
		}),
		AutoApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgbridge",
			Name:      "auto_approvals_total",
			Help:      "Permission prompts accepted by god mode.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tgbridge",
			Name:      "sessions",
			Help:      "Live agent sessions seen by the last scan.",
		}),
	}
	m.Registry.MustRegister(
		m.SignalsProcessed,
		m.SignalsDropped,
		m.MessagesSent,
		m.TransportErrors,
		m.MessagesQueued,
		m.MessagesFlushed,
		m.AutoApprovals,
		m.Sessions,
	)
	return m
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
