package core

import (
	"fmt"
	"strings"
	"time"
)

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type IdentityConfig struct {
	APIURL        string `koanf:"api_url" mapstructure:"api_url"`
	APIKey        string `koanf:"api_key" mapstructure:"api_key"`
	WebhookSecret string `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	JWTPublicKey  string `koanf:"jwt_public_key" mapstructure:"jwt_public_key"`
	Issuer        string `koanf:"issuer" mapstructure:"issuer"`
	SyncWebhooks  bool   `koanf:"sync_webhooks" mapstructure:"sync_webhooks"`
}

type GatewayConfig struct {
	APIURL        string `koanf:"api_url" mapstructure:"api_url"`
	KeyID         string `koanf:"key_id" mapstructure:"key_id"`
	KeySecret     string `koanf:"key_secret" mapstructure:"key_secret"`
	WebhookSecret string `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	// PlanID is used when a subscription request names no plan.
	PlanID string `koanf:"plan_id" mapstructure:"plan_id"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	LocalBackoff   time.Duration `koanf:"local_backoff" mapstructure:"local_backoff"`
}

type QueueConfig struct {
	Driver        string `koanf:"driver" mapstructure:"driver"`
	RedisAddr     string `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `koanf:"redis_db" mapstructure:"redis_db"`
	Workers       int    `koanf:"workers" mapstructure:"workers"`
}

type DefaultsConfig struct {
	Currency  string `koanf:"currency" mapstructure:"currency"`
	UserRole  string `koanf:"user_role" mapstructure:"user_role"`
	AdminRole string `koanf:"admin_role" mapstructure:"admin_role"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Identity    IdentityConfig `koanf:"identity" mapstructure:"identity"`
	Gateway     GatewayConfig  `koanf:"gateway" mapstructure:"gateway"`
	Retry       RetryConfig    `koanf:"retry" mapstructure:"retry"`
	Queue       QueueConfig    `koanf:"queue" mapstructure:"queue"`
	Defaults    DefaultsConfig `koanf:"defaults" mapstructure:"defaults"`
}

const (
	QueueDriverMemory = "memory"
	QueueDriverRedis  = "redis"
	// QueueDriverGoJob runs deliveries on a caller-supplied go-job backend.
	QueueDriverGoJob  = "gojob"

	claimLeaseBase        = 30 * time.Second
	claimLeaseCallTimeout = 15 * time.Second
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "reconciler",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:reconciler.db?cache=shared&_foreign_keys=on",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Identity: IdentityConfig{
			APIURL:       "https://api.clerk.com",
			SyncWebhooks: true,
		},
		Gateway: GatewayConfig{APIURL: "https://api.razorpay.com"},
		Retry: RetryConfig{
			MaxAttempts:    defaultRetryMaxAttempts,
			InitialBackoff: defaultExternalInitialBackoff,
			MaxBackoff:     defaultExternalMaxBackoff,
			LocalBackoff:   defaultLocalBackoff,
		},
		Queue: QueueConfig{
			Driver:  QueueDriverMemory,
			Workers: 1,
		},
		Defaults: DefaultsConfig{
			Currency:  DefaultCurrencyCode,
			UserRole:  DefaultUserRole,
			AdminRole: DefaultAdminRole,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("core: retry.max_attempts must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Queue.Driver)) {
	case "", QueueDriverMemory, QueueDriverGoJob:
	case QueueDriverRedis:
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return fmt.Errorf("core: queue.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("core: unsupported queue.driver %q", c.Queue.Driver)
	}
	if c.Queue.Workers < 0 {
		return fmt.Errorf("core: queue.workers must be >= 0")
	}
	return nil
}

// ExternalBackoff returns the scheduler used around identity provider and
// gateway calls.
func (c Config) ExternalBackoff() BackoffScheduler {
	return ExponentialBackoffScheduler{Initial: c.Retry.InitialBackoff, Max: c.Retry.MaxBackoff}
}

// ClaimLease sizes a webhook delivery claim to outlast a handler that spends
// its whole retry budget: every local and external backoff wait plus one call
// timeout per attempt, on top of the base lease.
func (c Config) ClaimLease() time.Duration {
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = defaultRetryMaxAttempts
	}
	external, local := c.ExternalBackoff(), c.LocalBackoff()
	lease := claimLeaseBase + time.Duration(attempts)*claimLeaseCallTimeout
	for attempt := 1; attempt < attempts; attempt++ {
		lease += external.NextDelay(attempt) + local.NextDelay(attempt)
	}
	return lease
}

// LocalBackoff returns the scheduler used around local storage retries.
func (c Config) LocalBackoff() BackoffScheduler {
	return FixedBackoffScheduler{Delay: c.Retry.LocalBackoff}
}
