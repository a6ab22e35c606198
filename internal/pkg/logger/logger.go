// Package logger provides a global, Sugared Zap logger with context-scoped
// fields and optional OpenTelemetry integration. Logs are emitted as JSON to
// stdout; when a span is active in the context, its trace and span ids are
// attached to every entry, and when telemetry exposes a LoggerProvider an OTEL
// bridge core is teed in.
package logger

import (
	"context"
	"os"
	"sync"

	"github.com/gabapcia/rpcparity/internal/pkg/telemetry"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctxKeyType is the unexported type used to store loggers in a context.
type ctxKeyType struct{}

var (
	// baseLogger is the global SugaredLogger instance. It is initialized once by Init.
	baseLogger *zap.SugaredLogger

	// initBaseLoggerOnce ensures the logger is only configured a single time.
	initBaseLoggerOnce sync.Once

	// ctxKey is the context key under which derived loggers are stored.
	ctxKey = ctxKeyType{}
)

// Init configures the global logger at the given level ("debug", "info",
// "warn", "error", "panic", "fatal"). Calling Init multiple times has no effect
// after the first successful initialization.
//
// Returns an error if parsing the log level fails.
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	initBaseLoggerOnce.Do(func() {
		cores := []zapcore.Core{
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				lvl,
			),
		}

		if lp := telemetry.LoggerProvider(); lp != nil {
			cores = append(cores, otelzap.NewCore("rpcparity", otelzap.WithLoggerProvider(lp)))
		}

		baseLogger = zap.New(zapcore.NewTee(cores...)).Sugar()
	})

	return nil
}

// Sync flushes any buffered log entries. It should be called on application
// shutdown to ensure all logs are written out.
func Sync() error {
	return baseLogger.Sync()
}

// deriveFromCtx returns the logger stored in ctx (or the base logger) enriched
// with the given key/value pairs and the active span's trace identifiers.
func deriveFromCtx(ctx context.Context, keysAndValues ...any) *zap.SugaredLogger {
	l, ok := ctx.Value(ctxKey).(*zap.SugaredLogger)
	if !ok || l == nil {
		l = baseLogger
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		keysAndValues = append(keysAndValues,
			"trace_id", sc.TraceID().String(),
			"span_id", sc.SpanID().String(),
		)
	}

	if len(keysAndValues) == 0 {
		return l
	}

	return l.With(keysAndValues...)
}

// Derive returns a child context carrying a logger with the given fields.
// Every subsequent log call using the returned context includes them.
func Derive(ctx context.Context, keysAndValues ...any) context.Context {
	return context.WithValue(ctx, ctxKey, deriveFromCtx(ctx, keysAndValues...))
}

// WithLogger returns a child context whose log calls go to l instead of the
// base logger.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey, l.Sugar())
}

func log(ctx context.Context, level zapcore.Level, msg string, keysAndValues ...any) {
	deriveFromCtx(ctx).Logw(level, msg, keysAndValues...)
}

// Debug logs a debug-level message with optional key/value context.
func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	log(ctx, zapcore.DebugLevel, msg, keysAndValues...)
}

// Info logs an info-level message with optional key/value context.
func Info(ctx context.Context, msg string, keysAndValues ...any) {
	log(ctx, zapcore.InfoLevel, msg, keysAndValues...)
}

// Warn logs a warn-level message with optional key/value context.
func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	log(ctx, zapcore.WarnLevel, msg, keysAndValues...)
}

// Error logs an error-level message with optional key/value context.
func Error(ctx context.Context, msg string, keysAndValues ...any) {
	log(ctx, zapcore.ErrorLevel, msg, keysAndValues...)
}

// Fatal logs a fatal-level message (and then exits) with optional key/value context.
func Fatal(ctx context.Context, msg string, keysAndValues ...any) {
	log(ctx, zapcore.FatalLevel, msg, keysAndValues...)
}
