// Package telemetry builds the structured logger every other package
// takes a *zap.Logger from. cmd/goclode logged with bare ANSI-colored
// fmt.Printf; this module replaces that with go.uber.org/zap (already an
// indirect dependency pulled in by the rest of the stack) since a
// multi-connection server has many interleaved goroutines to attribute
// log lines to, which a single-threaded REPL loop never needed.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap.Logger. development selects human-readable
// console output with debug level enabled; otherwise it builds a
// production JSON logger at info level, matching zap's own stock
// configurations rather than a bespoke encoder config.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}
