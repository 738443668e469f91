package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Checkout struct {
	Results  *prometheus.CounterVec
	Duration prometheus.Histogram
}

func NewCheckout() *Checkout {
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookshop",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bookshop",
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Checkout transaction duration.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	prometheus.MustRegister(results, duration)
	return &Checkout{Results: results, Duration: duration}
}

type Reconciler struct {
	Outcomes *prometheus.CounterVec
}

func NewReconciler() *Reconciler {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookshop",
		Subsystem: "reconciler",
		Name:      "callbacks_total",
		Help:      "Processed payment callbacks by outcome.",
	}, []string{"outcome"})

	prometheus.MustRegister(outcomes)
	return &Reconciler{Outcomes: outcomes}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
