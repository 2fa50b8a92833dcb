package billing

import (
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
)

type options struct {
	logger        core.Logger
	metrics       core.MetricsRecorder
	localRetry    core.RetryExecutor
	externalRetry core.RetryExecutor
	syncer        core.MetadataSyncer
	now           func() time.Time
	keySecret     string
	currency      string
}

type Option func(*options)

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithRetry sets the executors for storage and for gateway calls.
func WithRetry(local core.RetryExecutor, external core.RetryExecutor) Option {
	return func(o *options) {
		o.localRetry = local
		o.externalRetry = external
	}
}

func WithSyncer(syncer core.MetadataSyncer) Option {
	return func(o *options) {
		o.syncer = syncer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeySecret sets the gateway key secret used to check checkout
// signatures.
func WithKeySecret(secret string) Option {
	return func(o *options) {
		o.keySecret = strings.TrimSpace(secret)
	}
}

func WithDefaultCurrency(code string) Option {
	return func(o *options) {
		if code = strings.TrimSpace(code); code != "" {
			o.currency = strings.ToUpper(code)
		}
	}
}

func buildOptions(opts []Option) options {
	cfg := core.DefaultConfig()
	o := options{
		logger:        glog.Nop(),
		localRetry:    core.NewLocalRetryExecutor(cfg),
		externalRetry: core.NewExternalRetryExecutor(cfg),
		now:           func() time.Time { return time.Now().UTC() },
		currency:      core.DefaultCurrencyCode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

