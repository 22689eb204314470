package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PresencePublishes = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "presence_publishes_total", Help: "Total presence records published"})
	CallsOpened       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "calls_opened_total", Help: "Total calls opened"})
	OpenCalls         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi", Name: "open_calls", Help: "Open calls in the latest listing snapshot"})

	Claims = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi", Name: "claims_total", Help: "Call claim attempts by outcome"},
		[]string{"outcome"}, // won, lost
	)

	Offers          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "offers_total", Help: "Price offers made"})
	Agreements      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "agreements_total", Help: "Negotiations that reached an agreed price"})
	ScopeMismatches = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "scope_mismatches_total", Help: "Transaction updates dropped for a mismatched call scope"})

	RatingsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi", Name: "ratings_submitted_total", Help: "Ratings folded into actor aggregates"})
)
