// Package bootstrap connects the backing stores and builds the session
// engine's dependencies from configuration. It is shared by the HTTP server
// and the one-shot sweeper.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/audit"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/config"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/database"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/sessions"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/storage"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/users"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

const (
	usersCollection     = "users"
	blacklistCollection = "token_blacklist"
	auditCollection     = "auth_audit"
)

// Backends holds the live connections. Either field may be nil when the
// store is not configured or unreachable.
type Backends struct {
	Redis *redis.Client
	Mongo *mongo.Client
	DB    *mongo.Database
}

// Connect opens Redis and MongoDB when configured. Failures are logged and
// leave the corresponding field nil so callers can fall back.
func Connect(ctx context.Context, cfg *config.Config) *Backends {
	b := &Backends{}
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
			_ = rdb.Close()
		} else {
			logger.Infof("connected to Redis: %s", addr)
			b.Redis = rdb
		}
	}
	if cfg.MongoDB.URI != "" {
		client, err := connectMongoWithRetry(ctx, cfg.MongoDB, 5, time.Second)
		if err != nil {
			logger.Warnf("could not connect to MongoDB: %v", err)
		} else {
			b.Mongo = client
			b.DB = client.Database(cfg.MongoDB.Database)
		}
	}
	return b
}

// connectMongoWithRetry tolerates startup races with the database container.
func connectMongoWithRetry(ctx context.Context, cfg config.MongoDBConfig, maxAttempts int, backoff time.Duration) (*mongo.Client, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err := database.ConnectMongo(ctx, cfg.URI, cfg.Timeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// Close releases the connections.
func (b *Backends) Close(ctx context.Context) {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Mongo != nil {
		_ = b.Mongo.Disconnect(ctx)
	}
}

// UserRepository returns the Mongo repository when MongoDB is connected and an
// in-memory one otherwise.
func (b *Backends) UserRepository(ctx context.Context) (users.UserRepository, error) {
	if b.DB == nil {
		logger.Warnf("MongoDB unavailable: using in-memory user store (sessions do not survive restarts)")
		return users.NewMemoryRepository(), nil
	}
	repo := users.NewMongoUserRepository(b.DB.Collection(usersCollection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// Blacklist selects the blacklist backend. An explicit backend that is not
// connected is an error; an empty backend picks redis, then mongo, then memory.
func (b *Backends) Blacklist(ctx context.Context, backend string) (sessions.BlacklistRepository, error) {
	if backend == "" {
		switch {
		case b.Redis != nil:
			backend = "redis"
		case b.DB != nil:
			backend = "mongo"
		default:
			backend = "memory"
		}
	}
	switch backend {
	case "redis":
		if b.Redis == nil {
			return nil, errors.New("blacklist backend redis selected but Redis is not connected")
		}
		logger.Infof("token blacklist: redis")
		return sessions.NewRedisBlacklist(b.Redis, ""), nil
	case "mongo":
		if b.DB == nil {
			return nil, errors.New("blacklist backend mongo selected but MongoDB is not connected")
		}
		bl := sessions.NewMongoBlacklist(b.DB.Collection(blacklistCollection))
		if err := bl.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		logger.Infof("token blacklist: mongo")
		return bl, nil
	case "memory":
		logger.Warnf("token blacklist: in-memory (single instance only)")
		return sessions.NewMemoryBlacklist(nil), nil
	default:
		return nil, fmt.Errorf("unknown blacklist backend %q", backend)
	}
}

// AuditSink builds the configured sinks behind an asynchronous dispatcher so
// a slow broker never holds up issuance or refresh. The returned closers must
// be closed in order on shutdown; the dispatcher comes first so buffered
// events are delivered before the sinks close.
func (b *Backends) AuditSink(ctx context.Context, cfg *config.Config) (audit.Sink, []io.Closer) {
	sink, closers := b.auditSinks(ctx, cfg)
	if _, ok := sink.(audit.NoopSink); ok {
		return sink, closers
	}
	d := audit.NewDispatcher(sink, audit.DispatcherConfig{
		BufferSize:      cfg.Audit.BufferSize,
		DropIfFull:      true,
		DeliveryTimeout: cfg.Audit.DeliveryTimeout,
	})
	return d, append([]io.Closer{d}, closers...)
}

// auditSinks builds the sinks listed in cfg.Audit.Sinks. Sinks that cannot be
// set up are skipped with a warning.
func (b *Backends) auditSinks(ctx context.Context, cfg *config.Config) (audit.Sink, []io.Closer) {
	var sinks audit.MultiSink
	var closers []io.Closer
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.LogSink{})
		case "mongo":
			if b.DB == nil {
				logger.Warnf("audit sink mongo skipped: MongoDB not connected")
				continue
			}
			ms := audit.NewMongoSink(b.DB.Collection(auditCollection))
			if err := ms.EnsureIndexes(ctx); err != nil {
				logger.Warnf("audit sink mongo: %v", err)
			}
			sinks = append(sinks, ms)
		case "kafka":
			if len(cfg.Audit.KafkaBrokers) == 0 {
				logger.Warnf("audit sink kafka skipped: AUDIT_KAFKA_BROKERS empty")
				continue
			}
			ks := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
			sinks = append(sinks, ks)
			closers = append(closers, ks)
		case "amqp":
			as, err := audit.DialAMQPSink(cfg.Audit.AMQPURL, cfg.Audit.AMQPQueue)
			if err != nil {
				logger.Warnf("audit sink amqp skipped: %v", err)
				continue
			}
			sinks = append(sinks, as)
			closers = append(closers, as)
		case "archive":
			store, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
			if err != nil {
				logger.Warnf("audit sink archive skipped: %v", err)
				continue
			}
			sinks = append(sinks, audit.NewArchiveSink(store, ""))
		default:
			logger.Warnf("unknown audit sink %q ignored", name)
		}
	}
	switch len(sinks) {
	case 0:
		return audit.NoopSink{}, closers
	case 1:
		return sinks[0], closers
	}
	return sinks, closers
}

// SessionService assembles the session engine from configuration and the
// connected backends.
func (b *Backends) SessionService(ctx context.Context, cfg *config.Config, repo users.UserRepository, sink audit.Sink) (*sessions.Service, *tokens.Codec, error) {
	codec, err := tokens.NewCodec(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		return nil, nil, err
	}
	bl, err := b.Blacklist(ctx, cfg.Session.BlacklistBackend)
	if err != nil {
		return nil, nil, err
	}
	svc := sessions.NewService(codec, repo, bl, sink,
		sessions.WithBlacklistTTL(cfg.Session.BlacklistTTL),
		sessions.WithCleanupConcurrency(cfg.Session.CleanupConcurrency),
	)
	return svc, codec, nil
}
