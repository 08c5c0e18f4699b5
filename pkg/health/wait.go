package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/panda/pkg/log"
)

// Wait polls checker until it reports healthy, the timeout elapses or ctx
// is cancelled. The first check runs immediately.
func Wait(ctx context.Context, name string, checker Checker, cfg Config) error {
	logger := log.WithComponent("health")
	logger.Info().Str("service", name).Dur("timeout", cfg.Timeout).Msg("Waiting for service")

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Delay)
	defer ticker.Stop()

	var last Result
	for {
		last = checker.Check(waitCtx)
		if last.Healthy {
			logger.Info().Str("service", name).Msg("Service is running")
			return nil
		}
		logger.Debug().Str("service", name).Str("result", last.Message).Msg("Service not ready")

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("timeout waiting for %s (timeout: %v): %s", name, cfg.Timeout, last.Message)
		case <-ticker.C:
		}
	}
}
