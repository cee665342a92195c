package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	MinIO     MinIOConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port for the redis client, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

// Issuer returns the OIDC issuer URL for the configured realm.
func (k KeycloakConfig) Issuer() string {
	if k.Realm == "" {
		return k.URL
	}
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

// TokenURL is the realm's token endpoint used for authorization-code exchange.
func (k KeycloakConfig) TokenURL() string {
	return strings.TrimRight(k.Issuer(), "/") + "/protocol/openid-connect/token"
}

// JWTConfig holds signing material for the credential codec. Token lifetimes
// are fixed in the tokens package and are not configurable.
type JWTConfig struct {
	Secret string
	Issuer string
}

type SessionConfig struct {
	// BlacklistBackend is one of "redis", "mongo" or "memory". Empty picks
	// redis when configured, then mongo, then memory.
	BlacklistBackend   string
	BlacklistTTL       time.Duration
	CleanupSchedule    string
	CleanupConcurrency int
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type AuditConfig struct {
	Sinks        []string
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPQueue    string
	// BufferSize bounds the queue between the engine and the sinks; events
	// beyond it are dropped and counted.
	BufferSize      int
	DeliveryTimeout time.Duration
}

// Enabled reports whether the named sink is listed in AUDIT_SINKS.
func (a AuditConfig) Enabled(name string) bool {
	for _, s := range a.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "gogotex")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "gogotex-auth")
	v.SetDefault("SESSION_BLACKLIST_TTL_MINUTES", 10080)
	v.SetDefault("SESSION_CLEANUP_SCHEDULE", "@every 1h")
	v.SetDefault("SESSION_CLEANUP_CONCURRENCY", 8)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("AUDIT_SINKS", "log")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "auth.audit")
	v.SetDefault("AUDIT_AMQP_QUEUE", "auth.audit")
	v.SetDefault("AUDIT_BUFFER_SIZE", 1024)
	v.SetDefault("AUDIT_DELIVERY_TIMEOUT_SECONDS", 5)
	v.SetDefault("MINIO_BUCKET", "gogotex-audit")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:          v.GetString("KEYCLOAK_URL"),
			Realm:        v.GetString("KEYCLOAK_REALM"),
			ClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: v.GetString("JWT_ISSUER"),
		},
		Session: SessionConfig{
			BlacklistBackend:   strings.ToLower(strings.TrimSpace(v.GetString("SESSION_BLACKLIST_BACKEND"))),
			BlacklistTTL:       time.Duration(v.GetInt("SESSION_BLACKLIST_TTL_MINUTES")) * time.Minute,
			CleanupSchedule:    v.GetString("SESSION_CLEANUP_SCHEDULE"),
			CleanupConcurrency: v.GetInt("SESSION_CLEANUP_CONCURRENCY"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Audit: AuditConfig{
			Sinks:           splitList(v.GetString("AUDIT_SINKS")),
			KafkaBrokers:    splitList(v.GetString("AUDIT_KAFKA_BROKERS")),
			KafkaTopic:      v.GetString("AUDIT_KAFKA_TOPIC"),
			AMQPURL:         os.Getenv("AUDIT_AMQP_URL"),
			AMQPQueue:       v.GetString("AUDIT_AMQP_QUEUE"),
			BufferSize:      v.GetInt("AUDIT_BUFFER_SIZE"),
			DeliveryTimeout: time.Duration(v.GetInt("AUDIT_DELIVERY_TIMEOUT_SECONDS")) * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
	}

	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		logger.Warnf("JWT_SECRET is shorter than 32 bytes; set a secure value in production")
	}
	switch cfg.Session.BlacklistBackend {
	case "", "redis", "mongo", "memory":
	default:
		return nil, errors.New("SESSION_BLACKLIST_BACKEND must be one of redis, mongo, memory")
	}
	if cfg.Session.BlacklistTTL <= 0 {
		return nil, errors.New("SESSION_BLACKLIST_TTL_MINUTES must be positive")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
