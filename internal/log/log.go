/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the structured logger shared by the monitor and
// keeper processes. It wraps go-logr/zapr the way an operator log package
// would: a package-level default logger, a context carrier, and leveled
// convenience functions so call sites never import zap directly.
package log

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// debugLevel is the logr V-level mapped to "debug" verbosity.
const debugLevel = 1

type loggerContextKey struct{}

var defaultLogger = newDefault()

func newDefault() logr.Logger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl)
}

// SetupLogger configures the process-wide default logger. debug enables
// verbose (V(1)) output; when jsonOutput is false a human-friendly console
// encoder is used instead, matching interactive CLI invocations.
func SetupLogger(debug, jsonOutput bool) error {
	cfg := zap.NewProductionConfig()
	if !jsonOutput {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	zl, err := cfg.Build()
	if err != nil {
		return err
	}

	defaultLogger = zapr.NewLogger(zl)
	return nil
}

// IntoContext returns a copy of ctx carrying logger.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext extracts the logger previously stored with IntoContext,
// falling back to the process-wide default logger.
func FromContext(ctx context.Context) logr.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(logr.Logger); ok {
		return logger
	}
	return defaultLogger
}

// Info logs msg at the default (informational) level on the default logger.
func Info(msg string, keysAndValues ...interface{}) {
	defaultLogger.Info(msg, keysAndValues...)
}

// Debug logs msg at verbose level on the default logger.
func Debug(msg string, keysAndValues ...interface{}) {
	defaultLogger.V(debugLevel).Info(msg, keysAndValues...)
}

// Warning logs msg at the default level tagged as a warning, since logr has
// no dedicated warning level.
func Warning(msg string, keysAndValues ...interface{}) {
	defaultLogger.Info(msg, append([]interface{}{"level", "warning"}, keysAndValues...)...)
}

// Error logs err alongside msg on the default logger.
func Error(err error, msg string, keysAndValues ...interface{}) {
	defaultLogger.Error(err, msg, keysAndValues...)
}

// WithValues returns the default logger with the given key/value pairs
// attached, for building a request or node-scoped child logger.
func WithValues(keysAndValues ...interface{}) logr.Logger {
	return defaultLogger.WithValues(keysAndValues...)
}

// WithName returns the default logger with name appended to its name
// segments, matching the teacher's per-subsystem logger naming.
func WithName(name string) logr.Logger {
	return defaultLogger.WithName(name)
}
