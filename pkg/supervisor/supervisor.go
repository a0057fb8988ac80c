// Package supervisor wires proxy loading, the pool, the optimizer, the
// admin console, and the listener into one runnable unit.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/tboy1337/multisocks/pkg/config"
	"github.com/tboy1337/multisocks/pkg/listener"
	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/optimizer"
	"github.com/tboy1337/multisocks/pkg/pool"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
	"github.com/tboy1337/multisocks/pkg/session"
)

// Supervisor owns every live component for one multisocks instance.
type Supervisor struct {
	cfg       *config.Config
	pool      *pool.Pool
	listener  *listener.Listener
	optimizer *optimizer.Optimizer
}

// New loads the proxy set described by cfg, builds the pool, binds the
// downstream listener, and (if enabled) the optimizer. It does not start
// anything yet; call Run for that.
func New(cfg *config.Config) (*Supervisor, error) {
	descs, err := loadProxies(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy configuration: %w", err)
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("no proxies configured")
	}

	poolCfg := pool.Config{
		FMax:          cfg.FMax,
		ProbeInterval: cfg.ProbeInterval,
		MaxAttempts:   cfg.MaxAttempts,
		ProbeTimeout:  pool.DefaultConfig().ProbeTimeout,
	}
	p := pool.New(descs, poolCfg)

	ln, err := listener.Listen(cfg.Host, cfg.Port, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}

	sessionCfg := session.DefaultConfig()
	l := listener.New(ln, p, sessionCfg, cfg.GracePeriod)

	var opt *optimizer.Optimizer
	if cfg.AutoOptimize {
		opt = optimizer.New(p, cfg.OptimizerTargetURL, cfg.ReoptimizeInterval)
	}

	return &Supervisor{cfg: cfg, pool: p, listener: l, optimizer: opt}, nil
}

// loadProxies parses the proxy set from cfg, from either the inline list
// or the proxy file (mutually exclusive, enforced by config.Validate).
func loadProxies(cfg *config.Config) ([]*proxyspec.Descriptor, error) {
	if cfg.ProxyFile != "" {
		return proxyspec.LoadFile(cfg.ProxyFile)
	}

	descs := make([]*proxyspec.Descriptor, 0, len(cfg.Proxies))
	for i, raw := range cfg.Proxies {
		d, err := proxyspec.Parse(raw, i)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Addr returns the bound downstream listener address.
func (s *Supervisor) Addr() string {
	return s.listener.Addr().String()
}

// Run starts the health-probe loop, the optimizer (if enabled), the
// admin console (unless disabled), and the downstream listener, and
// blocks until ctx is canceled or the listener stops on its own.
func (s *Supervisor) Run(ctx context.Context) error {
	// A child context so the console's "quit" command can trigger the
	// same shutdown path as the parent being canceled by SIGINT/SIGTERM,
	// without being able to outlive the parent itself.
	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	s.pool.Start(ctx)
	defer s.pool.Stop()

	var wg sync.WaitGroup

	if s.optimizer != nil {
		s.optimizer.Retune(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.optimizer.Run(ctx)
		}()
	}

	if !s.cfg.NoConsole {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runConsole(ctx, s.pool, shutdown)
		}()
	}

	logging.Infof("supervisor: listening on %s with %d proxies", s.Addr(), s.pool.Size())
	err := s.listener.Serve(ctx)

	wg.Wait()
	return err
}
