package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	jobqueue "github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/adapters/gocommand"
	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/adapters/gologger"
	"github.com/goliatone/go-reconciler/adapters/redisqueue"
	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/httpapi"
	"github.com/goliatone/go-reconciler/identity"
	"github.com/goliatone/go-reconciler/inbound"
	"github.com/goliatone/go-reconciler/ratelimit"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
	metasync "github.com/goliatone/go-reconciler/sync"
	"github.com/goliatone/go-reconciler/transport"
	"github.com/goliatone/go-reconciler/webhooks"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig layers loader output between the defaults and runtime.
func LoadConfig(ctx context.Context, loader core.RawConfigLoader, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(loader), core.GoOptionsResolver{}, runtime)
}

type Option func(*App)

func WithPersistenceClient(client *persistence.Client) Option {
	return func(a *App) { a.persistence = client }
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(a *App) { a.loggerProvider = provider }
}

func WithLogger(logger glog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithQueue replaces the queue selected by queue.driver.
func WithQueue(queue core.JobQueue) Option {
	return func(a *App) { a.Queue = queue }
}

// WithGoJobBackend supplies the go-job backend used when queue.driver is
// "gojob".
func WithGoJobBackend(enqueuer jobqueue.Enqueuer, dequeuer jobqueue.Dequeuer) Option {
	return func(a *App) {
		a.jobEnqueuer = enqueuer
		a.jobDequeuer = dequeuer
	}
}

func WithIdentityClient(client core.IdentityProviderClient) Option {
	return func(a *App) { a.IdentityClient = client }
}

func WithGateway(gateway billing.Gateway) Option {
	return func(a *App) { a.Gateway = gateway }
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(a *App) { a.httpClient = client }
}

// WithRoleCache serves role lookups through go-repository-cache.
func WithRoleCache(enabled bool) Option {
	return func(a *App) { a.roleCache = enabled }
}

// App is the wired reconciler: stores, handlers, the webhook pipeline and
// the HTTP surface.
type App struct {
	Config  Config
	Loggers gologger.Loggers
	Metrics *core.MemoryMetricsRecorder

	Factory        *sqlstore.RepositoryFactory
	IdentityClient core.IdentityProviderClient
	Gateway        billing.Gateway
	Syncer         *metasync.MetadataSyncer
	Identity       *identity.Handler
	Billing        *billing.Service
	StateMachine   *billing.StateMachine

	Router     *inbound.Router
	Queue      core.JobQueue
	Dispatcher *inbound.Dispatcher
	Worker     *inbound.Worker
	Commands   *gocommand.RegistryAdapter
	Server     *httpapi.Server

	persistence    *persistence.Client
	loggerProvider glog.LoggerProvider
	logger         glog.Logger
	httpClient     transport.HTTPDoer
	roleCache      bool
	jobEnqueuer    jobqueue.Enqueuer
	jobDequeuer    jobqueue.Dequeuer

	closeOnce sync.Once
	closers   []func() error
}

// New wires every component over a migrated persistence client.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.persistence == nil {
		return nil, fmt.Errorf("reconciler: persistence client is required")
	}
	app.Loggers = gologger.NewLoggers(app.loggerProvider, app.logger)
	app.Metrics = core.NewMemoryMetricsRecorder()

	var factoryOpts []sqlstore.FactoryOption
	if app.roleCache {
		cacheService, err := sqlstore.NewRoleCacheService()
		if err != nil {
			return nil, fmt.Errorf("reconciler: role cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithRoleCache(cacheService))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(app.persistence, factoryOpts...)
	if err != nil {
		return nil, err
	}
	app.Factory = factory

	localRetry := core.RetryExecutor{MaxAttempts: cfg.Retry.MaxAttempts, Backoff: cfg.LocalBackoff(), Classifier: core.IsTransient}
	externalRetry := core.RetryExecutor{MaxAttempts: cfg.Retry.MaxAttempts, Backoff: cfg.ExternalBackoff(), Classifier: core.IsTransient}

	guard := ratelimit.NewGuard(nil)
	adapter := transport.NewRESTAdapter(app.httpClient)
	if app.IdentityClient == nil {
		app.IdentityClient = identity.NewClient(cfg.Identity, adapter, guard)
	}
	if app.Gateway == nil {
		app.Gateway = billing.NewGatewayClient(cfg.Gateway, adapter, guard)
	}

	app.Syncer = metasync.NewMetadataSyncer(factory, app.IdentityClient, externalRetry, app.Loggers.Get(gologger.ComponentSync))
	app.Identity = identity.NewHandler(factory,
		identity.WithRetry(localRetry),
		identity.WithSyncer(app.Syncer),
		identity.WithDefaults(cfg.Defaults),
		identity.WithLogger(app.Loggers.Get(gologger.ComponentIdentity)),
		identity.WithMetrics(app.Metrics),
	)
	billingOpts := []billing.Option{
		billing.WithRetry(localRetry, externalRetry),
		billing.WithSyncer(app.Syncer),
		billing.WithKeySecret(cfg.Gateway.KeySecret),
		billing.WithDefaultCurrency(cfg.Defaults.Currency),
		billing.WithLogger(app.Loggers.Get(gologger.ComponentBilling)),
		billing.WithMetrics(app.Metrics),
	}
	app.Billing = billing.NewService(factory, app.Gateway, billingOpts...)
	app.StateMachine = billing.NewStateMachine(factory, billingOpts...)

	if err := app.wireWebhooks(); err != nil {
		return nil, err
	}

	app.Commands = gocommand.NewRegistryAdapter(nil)
	if err := gocommand.RegisterReconcilerCommands(app.Commands, app.Billing, app.Syncer); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() error {
		app.Commands.Close()
		return nil
	})

	auth, err := app.authenticator()
	if err != nil {
		return nil, err
	}
	app.Server = httpapi.NewServer(httpapi.Config{
		Webhooks:             app.Dispatcher,
		SyncIdentityWebhooks: cfg.Identity.SyncWebhooks,
		Auth:                 auth,
		Commands:             httpapi.NewCommands(app.Billing),
		DefaultPlanID:        cfg.Gateway.PlanID,
		Logger:               app.Loggers.Get(gologger.ComponentHTTP),
	})
	return app, nil
}

func (a *App) wireWebhooks() error {
	ledger := a.Factory.DeliveryStore()
	if strings.TrimSpace(a.Config.Identity.WebhookSecret) == "" {
		a.Loggers.Get(gologger.ComponentInbound).Warn("identity.webhook_secret is empty; identity webhooks are accepted unsigned")
	}
	identityProcessor := webhooks.NewTemplateProcessor(webhooks.NewIdentityProviderTemplate(a.Config.Identity.WebhookSecret), ledger, a.Identity)
	gatewayProcessor := webhooks.NewTemplateProcessor(webhooks.NewPaymentGatewayTemplate(a.Config.Gateway.WebhookSecret), ledger, a.StateMachine)
	// Handlers sync metadata with retries while holding the claim.
	identityProcessor.ClaimLease = a.Config.ClaimLease()
	gatewayProcessor.ClaimLease = a.Config.ClaimLease()
	router, err := inbound.NewRouter(
		inbound.Route{
			ProviderID: core.ProviderIdentity,
			Processor:  identityProcessor,
			EventType:  identity.EventType,
		},
		inbound.Route{
			ProviderID: core.ProviderGateway,
			Processor:  gatewayProcessor,
			EventType:  billing.EventType,
		},
	)
	if err != nil {
		return err
	}
	a.Router = router

	if a.Queue == nil {
		switch strings.ToLower(strings.TrimSpace(a.Config.Queue.Driver)) {
		case core.QueueDriverRedis:
			queue := redisqueue.NewFromConfig(a.Config.Queue)
			a.closers = append(a.closers, queue.Close)
			a.Queue = queue
		case core.QueueDriverGoJob:
			if a.jobEnqueuer == nil || a.jobDequeuer == nil {
				return fmt.Errorf("reconciler: queue.driver %q needs WithGoJobBackend", core.QueueDriverGoJob)
			}
			a.Queue = gojob.NewQueue(a.jobEnqueuer, a.jobDequeuer, gojob.RetryPolicy{
				MaxAttempts:     a.Config.Retry.MaxAttempts,
				DeadLetterOnMax: true,
			})
		default:
			queue := core.NewMemoryJobQueue(0)
			a.closers = append(a.closers, func() error {
				queue.Close()
				return nil
			})
			a.Queue = queue
		}
	}

	logger := a.Loggers.Get(gologger.ComponentInbound)
	a.Dispatcher = inbound.NewDispatcher(router, a.Queue, logger)
	a.Worker = inbound.NewWorker(router, a.Queue, logger)
	return nil
}

func (a *App) authenticator() (*httpapi.Authenticator, error) {
	auth := &httpapi.Authenticator{
		Issuer:      a.Config.Identity.Issuer,
		Users:       a.Factory.UserStore(),
		Profiles:    a.IdentityClient,
		Provisioner: a.Identity,
		Logger:      a.Loggers.Get(gologger.ComponentHTTP),
	}
	if strings.TrimSpace(a.Config.Identity.JWTPublicKey) == "" {
		a.Loggers.Get(gologger.ComponentHTTP).Warn("identity.jwt_public_key is empty; authenticated routes will reject every request")
		return auth, nil
	}
	key, err := httpapi.ParsePublicKey(a.Config.Identity.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("reconciler: identity.jwt_public_key: %w", err)
	}
	auth.PublicKey = key
	return auth, nil
}

// RunWorkers recovers in-flight redis jobs, then blocks running
// queue.workers webhook workers until ctx is done.
func (a *App) RunWorkers(ctx context.Context) {
	if recoverer, ok := a.Queue.(interface {
		Recover(context.Context) (int, error)
	}); ok {
		n, err := recoverer.Recover(ctx)
		if err != nil {
			a.Loggers.Get(gologger.ComponentInbound).Error("recover in-flight jobs failed", "error", err)
		} else if n > 0 {
			a.Loggers.Get(gologger.ComponentInbound).Info("recovered in-flight jobs", "count", n)
		}
	}
	workers := a.Config.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	inbound.RunWorkers(ctx, a.Worker, workers)
}

// Close releases the queue and command subscriptions. The persistence client
// belongs to the caller.
func (a *App) Close() error {
	var firstErr error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
