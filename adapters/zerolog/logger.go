// Package zerolog renders glog calls through a zerolog logger.
package zerolog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

type Config struct {
	// Env "development" selects the console writer, anything else JSON.
	Env   string
	Level string
}

type Logger struct {
	zl zerolog.Logger
}

func New(cfg Config) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(strings.TrimSpace(cfg.Env), "development") {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return FromZerolog(zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger())
}

func FromZerolog(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func ParseLevel(value string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Trace(msg string, args ...any) { l.emit(l.zl.Trace(), msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

// Fatal logs at fatal level without exiting; process lifetime belongs to main.
func (l *Logger) Fatal(msg string, args ...any) {
	l.emit(l.zl.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Ctx(ctx).Logger()}
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// GetLogger returns a child logger tagged with the component name.
func (l *Logger) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// emit turns key/value pairs into zerolog fields. A trailing key without a
// value lands under "extra".
func (l *Logger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			event = event.Interface("extra", args[i])
			break
		}
		key := fmt.Sprint(args[i])
		switch value := args[i+1].(type) {
		case error:
			event = event.AnErr(key, value)
		case string:
			event = event.Str(key, value)
		default:
			event = event.Interface(key, value)
		}
	}
	event.Msg(msg)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Logger)(nil)
)
