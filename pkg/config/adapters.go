package config

import (
	"fmt"

	"github.com/marmos91/immutabled/pkg/adapter"
	"github.com/marmos91/immutabled/pkg/adapter/socket"
	"github.com/marmos91/immutabled/pkg/metrics"
)

// SocketAdapterConfig translates the socket section into the adapter's
// configuration. The shutdown timeout comes from the server section.
func SocketAdapterConfig(cfg *Config) (socket.Config, error) {
	mode, err := ParseFileMode(cfg.Socket.Mode)
	if err != nil {
		return socket.Config{}, fmt.Errorf("socket.mode: %w", err)
	}

	return socket.Config{
		Path:                 cfg.Socket.Path,
		Mode:                 mode,
		MaxConnections:       cfg.Socket.MaxConnections,
		ReadTimeout:          cfg.Socket.ReadTimeout,
		WriteTimeout:         cfg.Socket.WriteTimeout,
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		MaxPayloadBytes:      cfg.Socket.MaxPayloadBytes,
		PayloadTrailingGrace: cfg.Socket.PayloadTrailingGrace,
		RateLimit:            cfg.Socket.RateLimit,
	}, nil
}

// CreateAdapters creates the request adapters from the configuration.
func CreateAdapters(cfg *Config, exec socket.Executor, auth socket.Authenticator, m metrics.BrokerMetrics) ([]adapter.Adapter, error) {
	socketCfg, err := SocketAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}

	a, err := socket.New(socketCfg, exec, auth, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket adapter: %w", err)
	}

	return []adapter.Adapter{a}, nil
}
