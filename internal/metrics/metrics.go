// Package metrics exposes engine counters on a sidecar Prometheus
// server, kept off the public port.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements game.MetricsRecorder on Prometheus counters.
type Recorder struct {
	roundsCreated prometheus.Counter
	roundsCrashed prometheus.Counter
	crashPoints   prometheus.Histogram
	betsPlaced    prometheus.Counter
	stakeCents    prometheus.Counter
	cashouts      prometheus.Counter
	payoutCents   prometheus.Counter
}

func NewRecorder() *Recorder {
	return &Recorder{
		roundsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_rounds_created_total",
			Help: "Rounds created.",
		}),
		roundsCrashed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_rounds_crashed_total",
			Help: "Rounds resolved at their crash point.",
		}),
		crashPoints: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crash_point_multiplier",
			Help:    "Crash point distribution.",
			Buckets: []float64{1.0, 1.2, 1.5, 2, 3, 5, 10, 25, 50, 100},
		}),
		betsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_bets_placed_total",
			Help: "Bets accepted.",
		}),
		stakeCents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_stake_cents_total",
			Help: "Total stake accepted, in cents.",
		}),
		cashouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_cashouts_total",
			Help: "Successful cash-outs.",
		}),
		payoutCents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_payout_cents_total",
			Help: "Total payout credited, in cents.",
		}),
	}
}

func (r *Recorder) RoundCreated() {
	r.roundsCreated.Inc()
}

func (r *Recorder) RoundCrashed(crashPoint float64) {
	r.roundsCrashed.Inc()
	r.crashPoints.Observe(crashPoint)
}

func (r *Recorder) BetPlaced(amountCents int64) {
	r.betsPlaced.Inc()
	r.stakeCents.Add(float64(amountCents))
}

func (r *Recorder) CashedOut(payoutCents int64) {
	r.cashouts.Inc()
	r.payoutCents.Add(float64(payoutCents))
}

type HealthFunc func(ctx context.Context) error

// StartMetricsServer runs a small HTTP server for /metrics and
// /healthz only, in its own goroutine.
func StartMetricsServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv
}
