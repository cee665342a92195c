package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

// cleanupTimeout bounds a single scheduled run.
const cleanupTimeout = 5 * time.Minute

// Cleaner is satisfied by *Service.
type Cleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int, error)
}

// StartCleanupScheduler runs c.CleanupExpiredTokens on the given cron spec
// (for example "@every 1h" or "0 30 * * * *"). Stop the returned cron on shutdown.
func StartCleanupScheduler(ctx context.Context, c Cleaner, spec string) (*cron.Cron, error) {
	cr := cron.New()
	if err := cr.AddFunc(spec, func() { RunCleanup(ctx, c) }); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", spec, err)
	}
	cr.Start()
	logger.Infof("session cleanup scheduled: %s", spec)
	return cr, nil
}

// RunCleanup performs one cleanup pass and logs the outcome.
func RunCleanup(ctx context.Context, c Cleaner) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	start := time.Now()
	n, err := c.CleanupExpiredTokens(ctx)
	if err != nil {
		logger.Errorf("session cleanup failed after removing %d records: %v", n, err)
		return n, err
	}
	logger.Infof("session cleanup removed %d records in %s", n, time.Since(start).Round(time.Millisecond))
	return n, nil
}
