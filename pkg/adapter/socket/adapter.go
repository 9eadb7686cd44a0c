// Package socket serves the broker protocol on a local unix stream socket.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/internal/ratelimiter"
	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/metrics"
)

// Executor runs an authenticated request.
type Executor interface {
	Execute(ctx context.Context, req *broker.Request) *broker.Response
}

// Authenticator gates a decoded request.
type Authenticator interface {
	Authenticate(req *broker.Request) error
}

// Defaults applied by New for zero values.
const (
	DefaultPath                 = "/var/run/immutabled.sock"
	DefaultMode                 = fs.FileMode(0o600)
	DefaultMaxConnections       = 1
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultMaxPayloadBytes      = 64 << 20
	DefaultPayloadTrailingGrace = 50 * time.Millisecond
)

// RateLimitConfig throttles accepted connections.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained accept rate. 0 disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the number of connections accepted back to back.
	Burst uint `mapstructure:"burst"`
}

// Config holds configuration parameters for the socket adapter.
//
// Default values (applied by New if zero):
//   - Path: /var/run/immutabled.sock
//   - Mode: 0600
//   - MaxConnections: 1 (requests are served strictly one at a time)
//   - ShutdownTimeout: 30s
//   - MaxPayloadBytes: 64 MiB
//   - PayloadTrailingGrace: 50ms
//
// ReadTimeout and WriteTimeout default to 0 (no timeout): a slow peer holds
// its slot until it finishes or disconnects.
type Config struct {
	// Path is the filesystem path of the socket. A stale file at this path
	// is removed at startup.
	Path string `mapstructure:"path"`

	// Mode is applied to the socket file after bind.
	Mode fs.FileMode `mapstructure:"mode"`

	// MaxConnections limits how many connections are served concurrently.
	// Further peers wait in the listen backlog.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading header and payload. 0 means no timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing the response. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for active connections
	// during graceful shutdown before they are force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxPayloadBytes rejects larger declared write payloads.
	MaxPayloadBytes uint64 `mapstructure:"max_payload_bytes"`

	// PayloadTrailingGrace is how long to watch for bytes beyond the
	// declared payload length.
	PayloadTrailingGrace time.Duration `mapstructure:"payload_trailing_grace" validate:"min=0"`

	// RateLimit throttles accepted connections.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Mode == 0 {
		c.Mode = DefaultMode
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.PayloadTrailingGrace == 0 {
		c.PayloadTrailingGrace = DefaultPayloadTrailingGrace
	}
}

// validate checks the configuration after defaults.
func (c *Config) validate() error {
	if len(c.Path) >= 108 {
		return fmt.Errorf("invalid socket path %q: longer than sun_path allows", c.Path)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v", c.ReadTimeout, c.WriteTimeout)
	}
	return nil
}

// SocketAdapter accepts connections on a unix socket and runs one request
// per connection.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. requestCtx cancelled (signals in-flight external tools to abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//  6. Socket file removed
type SocketAdapter struct {
	config   Config
	executor Executor
	auth     Authenticator
	metrics  metrics.BrokerMetrics
	limiter  *ratelimiter.RateLimiter

	listener net.Listener
	ready    chan struct{}

	activeConns  sync.WaitGroup
	connCount    atomic.Int32
	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connSemaphore bounds concurrent connections (nil = unlimited).
	connSemaphore chan struct{}

	// requestCtx is passed to every request and cancelled on shutdown.
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps connection ID to net.Conn for forced closure.
	activeConnections sync.Map
}

// New creates a SocketAdapter. A nil m disables metrics.
func New(config Config, executor Executor, auth Authenticator, m metrics.BrokerMetrics) (*SocketAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	return &SocketAdapter{
		config:         config,
		executor:       executor,
		auth:           auth,
		metrics:        metrics.OrNoop(m),
		limiter:        ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		ready:          make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}, nil
}

// Serve listens on the socket and blocks until ctx is cancelled.
func (s *SocketAdapter) Serve(ctx context.Context) error {
	if err := os.Remove(s.config.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.config.Path, err)
	}

	listener, err := net.Listen("unix", s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Path, err)
	}
	defer func() {
		if err := os.Remove(s.config.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to remove socket %s: %v", s.config.Path, err)
		}
	}()

	if err := os.Chmod(s.config.Path, s.config.Mode); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set permissions on %s: %w", s.config.Path, err)
	}

	s.listener = listener
	close(s.ready)

	logger.Info("Broker listening on %s (mode %04o)", s.config.Path, s.config.Mode)
	logger.Debug("Socket config: max_connections=%d read_timeout=%v write_timeout=%v max_payload=%d rate_limit=%d/s",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout,
		s.config.MaxPayloadBytes, s.config.RateLimit.RequestsPerSecond)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Broker shutdown signal received: %v", ctx.Err())
		case <-s.shutdown:
		}
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		if !s.limiter.Unlimited() {
			if err := s.limiter.Wait(s.requestCtx); err != nil {
				s.releaseSlot()
				return s.gracefulShutdown()
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.releaseSlot()

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				if errors.Is(err, net.ErrClosed) {
					return s.gracefulShutdown()
				}
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		c := newConnection(s, conn)

		s.activeConns.Add(1)
		current := s.connCount.Add(1)
		s.activeConnections.Store(c.id, conn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("Connection %s accepted from %s (active: %d)", c.id, c.peer, current)

		go func() {
			defer func() {
				s.activeConnections.Delete(c.id)
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				s.releaseSlot()

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("Connection %s closed (active: %d)", c.id, current)
			}()

			c.Serve(s.requestCtx)
		}()
	}
}

func (s *SocketAdapter) releaseSlot() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// initiateShutdown closes the listener and cancels in-flight requests.
// Safe to call multiple times.
func (s *SocketAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Broker shutdown initiated")
		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener: %v", err)
			}
		}

		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout, then
// force-closes whatever is left.
func (s *SocketAdapter) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("Graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		active, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *SocketAdapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", id, err)
		} else {
			closed++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d connection(s)", closed)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done.
func (s *SocketAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown context cancelled: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// Ready is closed once the socket is bound and accepting.
func (s *SocketAdapter) Ready() <-chan struct{} {
	return s.ready
}

// ActiveConnections returns the current number of active connections.
func (s *SocketAdapter) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the socket path.
func (s *SocketAdapter) Addr() string {
	return s.config.Path
}

// Protocol returns "unix".
func (s *SocketAdapter) Protocol() string {
	return "unix"
}
