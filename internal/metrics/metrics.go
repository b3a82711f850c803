package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	IntentsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defi_agent_intents_total",
			Help: "User messages by interpreter outcome (llm, fallback, none)",
		},
		[]string{"path"},
	)

	QuotesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defi_agent_quotes_total",
			Help: "Quote requests by result kind (onchain, estimated, none)",
		},
		[]string{"kind", "venue"},
	)

	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "defi_agent_quote_duration_seconds",
			Help:    "Time spent producing a quote, including fallback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SwapsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defi_agent_swaps_total",
			Help: "Swaps reaching a terminal state",
		},
		[]string{"state", "code"},
	)

	ReceiptPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defi_agent_receipt_polls_total",
		Help: "Receipt lookups issued while waiting for settlement",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_agent_ws_sessions",
		Help: "Open websocket sessions",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables it.
func Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
