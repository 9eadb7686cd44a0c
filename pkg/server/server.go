// Package server ties the broker's long-running parts together: the request
// adapters, auxiliary services such as the metrics endpoint and the ledger
// archiver, and the retention ledger they all share.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/adapter"
	"github.com/marmos91/immutabled/pkg/ledger"
)

// DefaultStopTimeout bounds the Stop call issued to every adapter.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve already called")

// Service is an auxiliary task that runs for the lifetime of the server.
//
// Run must block until ctx is cancelled and then return. Services are
// cancelled only after every adapter has drained, so a service that flushes
// state on exit (the archiver) sees the final ledger.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Server manages the lifecycle of the adapters and services sharing one
// retention ledger.
//
// Lifecycle:
//  1. Creation: New() with the ledger
//  2. Registration: AddAdapter() / AddService()
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: context cancellation (or the failure of any component) stops
//     adapters in reverse registration order, then services, then closes the
//     ledger
type Server struct {
	ledger ledger.Store

	mu       sync.RWMutex
	adapters []adapter.Adapter
	services []Service

	stopTimeout time.Duration
	served      atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// New creates a Server owning store. The store is closed when Serve returns.
func New(store ledger.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("server: ledger store is required")
	}

	s := &Server{
		ledger:      store,
		adapters:    make([]adapter.Adapter, 0, 1),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddAdapter registers an adapter. Two adapters may not share an address.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("server: adapter cannot be nil")
	}
	if s.served.Load() {
		return errors.New("server: cannot add adapter after Serve")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.adapters {
		if existing.Addr() == a.Addr() {
			return fmt.Errorf("address %s already in use by %s adapter", a.Addr(), existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on %s", a.Protocol(), a.Addr())
	return nil
}

// AddService registers an auxiliary service.
func (s *Server) AddService(svc Service) error {
	if svc.Run == nil {
		return fmt.Errorf("server: service %q has no Run function", svc.Name)
	}
	if s.served.Load() {
		return errors.New("server: cannot add service after Serve")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, svc)
	logger.Debug("Registered service %s", svc.Name)
	return nil
}

// Serve starts every adapter and service and blocks until ctx is cancelled
// or a component fails.
//
// Returns ctx.Err() after a signal-driven shutdown, the first component
// error otherwise. A ledger close failure is joined to the result.
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	s.mu.RLock()
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	services := append([]Service(nil), s.services...)
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return errors.Join(
			errors.New("no adapters registered; call AddAdapter() before Serve()"),
			s.closeLedger(),
		)
	}

	logger.Info("Starting broker with %d adapter(s) and %d service(s)", len(adapters), len(services))

	errChan := make(chan componentError, len(adapters)+len(services))

	var adapterWg sync.WaitGroup
	for _, a := range adapters {
		adapterWg.Add(1)
		go func(a adapter.Adapter) {
			defer adapterWg.Done()

			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", a.Protocol(), err)
					errChan <- componentError{name: a.Protocol() + " adapter", err: err}
					return
				}
				logger.Debug("%s adapter stopped: %v", a.Protocol(), err)
				return
			}
			logger.Info("%s adapter stopped", a.Protocol())
		}(a)
	}

	svcCtx, cancelServices := context.WithCancel(context.Background())
	defer cancelServices()

	var serviceWg sync.WaitGroup
	for _, svc := range services {
		serviceWg.Add(1)
		go func(svc Service) {
			defer serviceWg.Done()

			logger.Debug("Starting service %s", svc.Name)
			if err := svc.Run(svcCtx); err != nil && svcCtx.Err() == nil {
				logger.Error("Service %s failed: %v", svc.Name, err)
				errChan <- componentError{name: svc.Name, err: err}
				return
			} else if err != nil {
				logger.Warn("Service %s stopped with error: %v", svc.Name, err)
				return
			}
			logger.Debug("Service %s stopped", svc.Name)
		}(svc)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()
	case failed := <-errChan:
		logger.Error("%s failed: %v - shutting down", failed.name, failed.err)
		shutdownErr = fmt.Errorf("%s: %w", failed.name, failed.err)
	}

	s.stopAllAdapters(adapters)
	adapterWg.Wait()

	cancelServices()
	serviceWg.Wait()

	if err := s.closeLedger(); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	logger.Info("Broker stopped")
	return shutdownErr
}

type componentError struct {
	name string
	err  error
}

// stopAllAdapters signals every adapter to stop, in reverse registration
// order. It does not wait for their Serve calls to return.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

func (s *Server) closeLedger() error {
	if err := s.ledger.Close(); err != nil {
		logger.Error("Failed to close retention ledger: %v", err)
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}
