package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgproxy_uploads_total",
		Help: "Upload requests by outcome (success, degraded, validation_error, error).",
	}, []string{"outcome"})

	proxyServes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgproxy_proxy_requests_total",
		Help: "Image proxy requests by outcome (success, not_found, error).",
	}, []string{"outcome"})
)
