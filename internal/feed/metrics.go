package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockfeed_feed_fetches_total",
		Help: "Completed feed fetches by outcome",
	}, []string{"feed", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockfeed_feed_fetch_duration_seconds",
		Help:    "Latency of feed page fetches",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	}, []string{"feed"})

	staleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockfeed_feed_stale_total",
		Help: "Fetch completions dropped because their context was superseded",
	}, []string{"feed"})
)
