package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolvePrefersProvider(t *testing.T) {
	direct := &capturingLogger{id: "logger"}
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}

	_, resolved := Resolve("reconciler", provider, direct)
	if got := resolved.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger, got %q", got.id)
	}

	resolvedProvider, resolved := Resolve("reconciler", nil, direct)
	if got := resolved.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("reconciler", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestLoggersNameComponents(t *testing.T) {
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}
	loggers := NewLoggers(provider, nil)

	loggers.Get(ComponentBilling).Info("charged")
	if len(provider.names) == 0 || provider.names[len(provider.names)-1] != ComponentBilling {
		t.Fatalf("expected billing logger requested, got %#v", provider.names)
	}
	if NewLoggers(nil, nil).Get(ComponentHTTP) == nil {
		t.Fatalf("expected nop logger without provider or logger")
	}
}

func TestForJobBridgesToGoJob(t *testing.T) {
	captured := &capturingLogger{id: "provider"}
	loggers := NewLoggers(&capturingProvider{logger: captured}, nil)

	jobProvider, jobLogger := loggers.ForJob()
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges")
	}
	jobProvider.GetLogger(ComponentInbound).Info("dequeued", "job_id", "reconciler.webhook.gateway")

	if captured.lastInfo.msg != "dequeued" {
		t.Fatalf("expected bridged message, got %q", captured.lastInfo.msg)
	}
	if captured.lastInfo.args[0] != "job_id" || captured.lastInfo.args[1] != "reconciler.webhook.gateway" {
		t.Fatalf("expected bridged args, got %#v", captured.lastInfo.args)
	}
}

type capturingProvider struct {
	logger *capturingLogger
	names  []string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	p.names = append(p.names, name)
	if p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
