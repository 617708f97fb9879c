// Package utils holds process-wide helpers shared by the commands.
package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// Verbose selects the development config. Otherwise the production JSON
// config is used with sampling disabled: a migration run logs one warning
// per failed record and none of them may be dropped.
func NewSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := newLoggerConfig(verbose)
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar(), nil
}

func newLoggerConfig(verbose bool) zap.Config {
	if verbose {
		return zap.NewDevelopmentConfig()
	}
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
