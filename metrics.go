// File: metrics.go
package main

import "github.com/prometheus/client_golang/prometheus"

var (
	challengesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captcha_challenges_started_total",
			Help: "Challenges started, including every restart",
		},
	)
	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captcha_outcomes_total",
			Help: "Resolved challenges by outcome",
		},
		[]string{"outcome"},
	)
	imageLoadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captcha_image_load_errors_total",
			Help: "Bitmaps that could not be fetched or decoded",
		},
	)
	solveSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "captcha_solve_seconds",
			Help:    "Time from challenge start to a successful release",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "captcha_active_sessions",
			Help: "Sessions currently held by the server",
		},
	)
)

func init() {
	prometheus.MustRegister(challengesStarted, outcomes, imageLoadErrors, solveSeconds, activeSessions)
}
