package config

import (
	"github.com/marmos91/immutabled/pkg/metrics"
	promMetrics "github.com/marmos91/immutabled/pkg/metrics/prometheus"
)

// MetricsResult contains the metrics components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// BrokerMetrics is never nil; it is a no-op when metrics are disabled
	BrokerMetrics metrics.BrokerMetrics
}

// InitializeMetrics creates the metrics components.
//
// When metrics are disabled it returns a nil server and no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{BrokerMetrics: metrics.NewNoopBrokerMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:        metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		BrokerMetrics: promMetrics.NewBrokerMetrics(),
	}
}
