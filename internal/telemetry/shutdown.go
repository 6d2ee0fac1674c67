package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// GracefulShutdown coordinates teardown of independently-owned components:
// the bridge synchronizer, the event plane consumer, the HA controller, the
// health HTTP server. Every registered function runs concurrently, in LIFO
// registration order, racing against a timeout.
type GracefulShutdown struct {
	mu         sync.Mutex
	shutdownFn []func() error
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGracefulShutdown creates a shutdown coordinator with the given budget.
func NewGracefulShutdown(timeout time.Duration, logger *zap.Logger) *GracefulShutdown {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

// Register adds a teardown function, run on Shutdown.
func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownFn = append(g.shutdownFn, fn)
}

// Shutdown runs every registered function concurrently and combines every
// failure (not just the first) via multierr, so a caller can see everything
// that went wrong during a single teardown pass.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := append([]func() error(nil), g.shutdownFn...)
	g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", zap.Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i := len(fns) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int, fn func() error) {
			defer wg.Done()
			if err := fn(); err != nil {
				g.logger.Error("shutdown function failed", zap.Int("index", idx), zap.Error(err))
				errs[idx] = err
			}
		}(i, fns[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		combined := multierr.Combine(errs...)
		if combined == nil {
			g.logger.Info("graceful shutdown complete")
		}
		return combined
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out")
		return multierr.Append(multierr.Combine(errs...), context.DeadlineExceeded)
	}
}
