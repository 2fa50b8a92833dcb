package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	reconciler "github.com/goliatone/go-reconciler"
)

func TestViperLoader_ReadsPrefixedEnvironment(t *testing.T) {
	t.Setenv("RECONCILER_GATEWAY_KEY_SECRET", "rzp_secret")
	t.Setenv("RECONCILER_QUEUE_WORKERS", "4")
	t.Setenv("RECONCILER_IDENTITY_SYNC_WEBHOOKS", "false")
	t.Setenv("RECONCILER_RETRY_MAX_BACKOFF", "90s")

	loader, err := newViperLoader("")
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	cfg, err := reconciler.LoadConfig(context.Background(), loader, reconciler.Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.KeySecret != "rzp_secret" {
		t.Fatalf("expected key secret from env, got %q", cfg.Gateway.KeySecret)
	}
	if cfg.Queue.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Queue.Workers)
	}
	if cfg.Retry.MaxBackoff != 90*time.Second {
		t.Fatalf("expected 90s max backoff, got %s", cfg.Retry.MaxBackoff)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
}

func TestViperLoader_ReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	content := "http:\n  addr: \":9000\"\nqueue:\n  driver: redis\n  redis_addr: 127.0.0.1:6379\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loader, err := newViperLoader(path)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	queue, _ := raw["queue"].(map[string]any)
	if queue["driver"] != "redis" || queue["redis_addr"] != "127.0.0.1:6379" {
		t.Fatalf("unexpected queue section %#v", queue)
	}
	httpSection, _ := raw["http"].(map[string]any)
	if httpSection["addr"] != ":9000" {
		t.Fatalf("unexpected http section %#v", httpSection)
	}
}

func TestViperLoader_MissingFileFails(t *testing.T) {
	if _, err := newViperLoader(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected a missing config file to fail")
	}
}
