// Package gologger resolves component loggers and bridges them to go-job.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ComponentIdentity = "reconciler.identity"
	ComponentBilling  = "reconciler.billing"
	ComponentSync     = "reconciler.sync"
	ComponentInbound  = "reconciler.inbound"
	ComponentHTTP     = "reconciler.http"
)

// Resolve picks provider, then logger, then nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// Loggers hands out one named logger per component from a single provider.
type Loggers struct {
	provider glog.LoggerProvider
}

func NewLoggers(provider glog.LoggerProvider, fallback glog.Logger) Loggers {
	resolved, _ := Resolve("reconciler", provider, fallback)
	return Loggers{provider: resolved}
}

func (l Loggers) Get(component string) glog.Logger {
	if l.provider == nil {
		return glog.Nop()
	}
	return l.provider.GetLogger(component)
}

func (l Loggers) Provider() glog.LoggerProvider {
	return l.provider
}

// ForJob returns the go-job logger for the inbound worker component.
func (l Loggers) ForJob() (job.LoggerProvider, job.Logger) {
	return ToJobProvider(l.provider), ToJobLogger(l.Get(ComponentInbound))
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}
