package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed map, mostly for tests and embedding.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig loads raw configuration through provider and layers it between the
// defaults and the runtime overrides.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, fmt.Errorf("core: load config: %w", err)
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type layerBuilder struct {
	includeZero bool
	values      map[string]any
}

func (b *layerBuilder) section(name string) map[string]any {
	if existing, ok := b.values[name].(map[string]any); ok {
		return existing
	}
	section := map[string]any{}
	b.values[name] = section
	return section
}

func (b *layerBuilder) str(section, key, value string) {
	if !b.includeZero && strings.TrimSpace(value) == "" {
		return
	}
	b.put(section, key, value)
}

func (b *layerBuilder) integer(section, key string, value int) {
	if !b.includeZero && value == 0 {
		return
	}
	b.put(section, key, value)
}

func (b *layerBuilder) boolean(section, key string, value bool) {
	if !b.includeZero && !value {
		return
	}
	b.put(section, key, value)
}

func (b *layerBuilder) duration(section, key string, value time.Duration) {
	if !b.includeZero && value == 0 {
		return
	}
	b.put(section, key, value)
}

func (b *layerBuilder) put(section, key string, value any) {
	if section == "" {
		b.values[key] = value
		return
	}
	b.section(section)[key] = value
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	b := &layerBuilder{includeZero: includeZero, values: map[string]any{}}

	b.str("", "service_name", cfg.ServiceName)

	b.str("database", "driver", cfg.Database.Driver)
	b.str("database", "dsn", cfg.Database.DSN)
	b.boolean("database", "debug", cfg.Database.Debug)

	b.str("http", "addr", cfg.HTTP.Addr)

	b.str("identity", "api_url", cfg.Identity.APIURL)
	b.str("identity", "api_key", cfg.Identity.APIKey)
	b.str("identity", "webhook_secret", cfg.Identity.WebhookSecret)
	b.str("identity", "jwt_public_key", cfg.Identity.JWTPublicKey)
	b.str("identity", "issuer", cfg.Identity.Issuer)
	b.boolean("identity", "sync_webhooks", cfg.Identity.SyncWebhooks)

	b.str("gateway", "api_url", cfg.Gateway.APIURL)
	b.str("gateway", "key_id", cfg.Gateway.KeyID)
	b.str("gateway", "key_secret", cfg.Gateway.KeySecret)
	b.str("gateway", "webhook_secret", cfg.Gateway.WebhookSecret)
	b.str("gateway", "plan_id", cfg.Gateway.PlanID)

	b.integer("retry", "max_attempts", cfg.Retry.MaxAttempts)
	b.duration("retry", "initial_backoff", cfg.Retry.InitialBackoff)
	b.duration("retry", "max_backoff", cfg.Retry.MaxBackoff)
	b.duration("retry", "local_backoff", cfg.Retry.LocalBackoff)

	b.str("queue", "driver", cfg.Queue.Driver)
	b.str("queue", "redis_addr", cfg.Queue.RedisAddr)
	b.str("queue", "redis_password", cfg.Queue.RedisPassword)
	b.integer("queue", "redis_db", cfg.Queue.RedisDB)
	b.integer("queue", "workers", cfg.Queue.Workers)

	b.str("defaults", "currency", cfg.Defaults.Currency)
	b.str("defaults", "user_role", cfg.Defaults.UserRole)
	b.str("defaults", "admin_role", cfg.Defaults.AdminRole)

	return b.values
}
