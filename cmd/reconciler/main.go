// Command reconciler serves the webhook and billing HTTP surface and runs
// the background webhook workers.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	reconciler "github.com/goliatone/go-reconciler"
	zlog "github.com/goliatone/go-reconciler/adapters/zerolog"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/migrations"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configFile  = pflag.String("config", "", "optional config file (yaml, json, toml)")
		envFile     = pflag.String("env-file", ".env", "dotenv file loaded before the environment")
		migrateOnly = pflag.Bool("migrate-only", false, "apply migrations and exit")
	)
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "reconciler: load %s: %v\n", *envFile, err)
	}

	logger := zlog.New(zlog.Config{
		Env:   os.Getenv(envPrefix + "_ENV"),
		Level: os.Getenv(envPrefix + "_LOG_LEVEL"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configFile, *migrateOnly); err != nil {
		logger.Error("reconciler stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zlog.Logger, configFile string, migrateOnly bool) error {
	loader, err := newViperLoader(configFile)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := reconciler.LoadConfig(ctx, loader, reconciler.Config{})
	if err != nil {
		return err
	}

	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("database migrated", "driver", cfg.Database.Driver)
	if migrateOnly {
		return nil
	}

	app, err := reconciler.New(cfg,
		reconciler.WithPersistenceClient(client),
		reconciler.WithLoggerProvider(logger),
		reconciler.WithLogger(logger),
		reconciler.WithRoleCache(true),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.RunWorkers(workerCtx)
	}()

	httpApp := app.Server.App()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr)
		serveErr <- httpApp.Listen(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	if shutdownErr := httpApp.ShutdownWithTimeout(shutdownTimeout); shutdownErr != nil {
		logger.Warn("http shutdown", "error", shutdownErr)
	}
	cancelWorkers()
	wg.Wait()
	return err
}

type persistenceConfig struct {
	cfg core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.cfg.Debug }
func (c persistenceConfig) GetDriver() string             { return c.cfg.Driver }
func (c persistenceConfig) GetServer() string             { return c.cfg.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-reconciler" }

// openDatabase opens the configured driver and applies the embedded
// migrations for its dialect.
func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialect schema.Dialect
	switch migrations.DialectForDriver(driver) {
	case migrations.DialectSQLite:
		driver = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		driver = "postgres"
		dialect = pgdialect.New()
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = migrations.Register(ctx,
		migrations.ForDialect(migrations.DialectForDriver(driver), func(fsys fs.FS) {
			client.RegisterSQLMigrations(fsys)
		}),
		migrations.WithValidationTargets(migrations.DialectForDriver(driver)),
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
