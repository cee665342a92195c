// Command sweeper runs a single session cleanup pass and exits. It is meant
// for a cron job or Kubernetes CronJob when the in-process scheduler is not
// wanted.
package main

import (
	"context"
	"os"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/bootstrap"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/config"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/sessions"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	os.Exit(run(context.Background()))
}

// run returns the process exit code so deferred cleanup always happens.
func run(ctx context.Context) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Errorf("failed to load config: %v", err)
		return 1
	}

	backends := bootstrap.Connect(ctx, cfg)
	defer backends.Close(context.Background())
	if backends.DB == nil {
		logger.Errorf("sweeper requires MongoDB: nothing to clean in an in-memory store")
		return 1
	}

	userRepo, err := backends.UserRepository(ctx)
	if err != nil {
		logger.Errorf("user store: %v", err)
		return 1
	}
	sink, closers := backends.AuditSink(ctx, cfg)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warnf("closing audit sink: %v", err)
			}
		}
	}()

	svc, _, err := backends.SessionService(ctx, cfg, userRepo, sink)
	if err != nil {
		logger.Errorf("session service: %v", err)
		return 1
	}
	if _, err := sessions.RunCleanup(ctx, svc); err != nil {
		return 1
	}
	return 0
}
