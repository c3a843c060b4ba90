// Package logging provides the scanner's module-scoped logging facade.
//
// Callers install a logger into a context.Context with WithLogger; every
// internal package then pulls a per-module Logger out of that context via
// Module("pkgname")(ctx). Packages never construct a *zap.Logger directly
// and never log before a caller has had a chance to install one, so the
// library stays silent by default and fully pluggable when embedded.
package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal leveled-logging surface the scanner packages use.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
}

// Factory produces a module-scoped Logger given a context, mirroring the
// factory the context key below stores.
type Factory func(ctx context.Context) Logger

type loggerFactoryKey struct{}

// WithLogger attaches a logger Factory to ctx; Module(...)(ctx) will then
// resolve through it instead of falling back to the null logger.
func WithLogger(ctx context.Context, f func(module string) Factory) context.Context {
	return context.WithValue(ctx, loggerFactoryKey{}, f)
}

// Module returns a Factory scoped to the given module name. When no logger
// has been installed via WithLogger, the returned Factory yields a
// discard logger, so unconfigured callers never see output nor pay for it.
func Module(module string) Factory {
	return func(ctx context.Context) Logger {
		if v, ok := ctx.Value(loggerFactoryKey{}).(func(string) Factory); ok && v != nil {
			return v(module)(ctx)
		}
		return nullLogger{}
	}
}

// ToWriter returns a logger-module factory that writes plain lines (no
// level prefix, no timestamp) to w - handy for tests asserting on exact
// log content.
func ToWriter(w io.Writer) func(module string) Factory {
	return func(module string) Factory {
		return func(ctx context.Context) Logger {
			return &writerLogger{w: w}
		}
	}
}

// Broadcast fans every call out to all of the given factories' loggers,
// used to e.g. duplicate scan activity to both a file and stderr.
func Broadcast(factories ...Factory) Factory {
	return func(ctx context.Context) Logger {
		loggers := make([]Logger, 0, len(factories))
		for _, f := range factories {
			loggers = append(loggers, f(ctx))
		}
		return broadcastLogger{loggers: loggers}
	}
}

// NewZap builds a logger-module factory backed by a *zap.Logger, naming
// each module's logger after the module. It adds no coloring of its own;
// NewConsole (console.go) configures colored level names.
func NewZap(zl *zap.Logger) func(module string) Factory {
	return func(module string) Factory {
		return func(ctx context.Context) Logger {
			return zl.Sugar().Named(module)
		}
	}
}

type nullLogger struct{}

func (nullLogger) Debug(args ...interface{})                       {}
func (nullLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (nullLogger) Info(args ...interface{})                        {}
func (nullLogger) Infof(template string, args ...interface{})      {}
func (nullLogger) Warn(args ...interface{})                        {}
func (nullLogger) Warnf(template string, args ...interface{})      {}
func (nullLogger) Error(args ...interface{})                       {}
func (nullLogger) Errorf(template string, args ...interface{})     {}

type writerLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *writerLogger) line(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *writerLogger) Debug(args ...interface{}) { l.line(fmt.Sprint(args...)) }
func (l *writerLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.line(msg + "\t" + fieldsJSON(keysAndValues))
}
func (l *writerLogger) Info(args ...interface{})                    { l.line(fmt.Sprint(args...)) }
func (l *writerLogger) Infof(template string, args ...interface{})  { l.line(fmt.Sprintf(template, args...)) }
func (l *writerLogger) Warn(args ...interface{})                    { l.line(fmt.Sprint(args...)) }
func (l *writerLogger) Warnf(template string, args ...interface{})  { l.line(fmt.Sprintf(template, args...)) }
func (l *writerLogger) Error(args ...interface{})                   { l.line(fmt.Sprint(args...)) }
func (l *writerLogger) Errorf(template string, args ...interface{}) { l.line(fmt.Sprintf(template, args...)) }

// fieldsJSON renders keysAndValues the same way zap's console encoder does
// for a Debugw call, sorted for determinism in tests.
func fieldsJSON(keysAndValues []interface{}) string {
	enc := zapcore.NewMapObjectEncoder()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		zap.Any(key, keysAndValues[i+1]).AddTo(enc)
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q:%v", k, jsonValue(enc.Fields[k]))
	}
	return out + "}"
}

func jsonValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	default:
		return fmt.Sprint(t)
	}
}

type broadcastLogger struct {
	loggers []Logger
}

func (b broadcastLogger) Debug(args ...interface{}) {
	for _, l := range b.loggers {
		l.Debug(args...)
	}
}

func (b broadcastLogger) Debugw(msg string, keysAndValues ...interface{}) {
	for _, l := range b.loggers {
		l.Debugw(msg, keysAndValues...)
	}
}

func (b broadcastLogger) Info(args ...interface{}) {
	for _, l := range b.loggers {
		l.Info(args...)
	}
}

func (b broadcastLogger) Infof(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Infof(template, args...)
	}
}

func (b broadcastLogger) Warn(args ...interface{}) {
	for _, l := range b.loggers {
		l.Warn(args...)
	}
}

func (b broadcastLogger) Warnf(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Warnf(template, args...)
	}
}

func (b broadcastLogger) Error(args ...interface{}) {
	for _, l := range b.loggers {
		l.Error(args...)
	}
}

func (b broadcastLogger) Errorf(template string, args ...interface{}) {
	for _, l := range b.loggers {
		l.Errorf(template, args...)
	}
}
