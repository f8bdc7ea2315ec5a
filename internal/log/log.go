// Package log provides the process-wide zap logger used by smosaic.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	base  *zap.Logger
)

// Init configures the package-level logger. Debug mode uses zap's
// development encoder with debug level enabled.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		l, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("init zap logger: %w", err)
	}
	base = l
	sugar = l.Sugar()
	return nil
}

// SetLogger replaces the package logger, mainly for tests.
func SetLogger(l *zap.Logger) {
	base = l.WithOptions(zap.AddCallerSkip(1))
	sugar = base.Sugar()
}

func logger() *zap.SugaredLogger {
	if sugar == nil {
		base, _ = zap.NewProduction(zap.AddCallerSkip(1))
		sugar = base.Sugar()
	}
	return sugar
}

// Sync flushes buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func Debugw(msg string, keysAndValues ...any) { logger().Debugw(msg, keysAndValues...) }
func Debugf(template string, args ...any)     { logger().Debugf(template, args...) }
func Infow(msg string, keysAndValues ...any)  { logger().Infow(msg, keysAndValues...) }
func Infof(template string, args ...any)      { logger().Infof(template, args...) }
func Warnw(msg string, keysAndValues ...any)  { logger().Warnw(msg, keysAndValues...) }
func Warnf(template string, args ...any)      { logger().Warnf(template, args...) }
func Errorw(msg string, keysAndValues ...any) { logger().Errorw(msg, keysAndValues...) }
func Errorf(template string, args ...any)     { logger().Errorf(template, args...) }
