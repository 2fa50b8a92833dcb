package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder  = NopMetricsRecorder{}
	_ MetricsRecorder  = (*MemoryMetricsRecorder)(nil)
	_ BackoffScheduler = ExponentialBackoffScheduler{}
	_ BackoffScheduler = FixedBackoffScheduler{}
	_ ConfigProvider   = (*CfgxConfigProvider)(nil)
	_ OptionsResolver  = GoOptionsResolver{}
	_ JobQueue         = (*MemoryJobQueue)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
