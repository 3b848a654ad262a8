// Copyright 2024-2026 Aiku AI

// Package logging builds the process logger from the logging config section.
package logging

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/zeroconfig"

	"github.com/aiku/mmbot/pkg/config"
)

// New compiles a zerolog logger writing to the configured stream in the
// configured format.
func New(cfg config.LoggingConfig) (*zerolog.Logger, error) {
	zc, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return zc.Compile()
}

// Compile translates the config section into a zeroconfig.Config.
func Compile(cfg config.LoggingConfig) (*zeroconfig.Config, error) {
	level := zerolog.InfoLevel
	if cfg.MinLevel != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(cfg.MinLevel))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.MinLevel, err)
		}
	}

	writer := zeroconfig.WriterConfig{}
	switch strings.ToLower(cfg.Writer) {
	case "", "stdout":
		writer.Type = zeroconfig.WriterTypeStdout
	case "stderr":
		writer.Type = zeroconfig.WriterTypeStderr
	default:
		return nil, fmt.Errorf("unsupported log writer %q", cfg.Writer)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "pretty-colored":
		writer.Format = zeroconfig.LogFormatPrettyColored
	case "pretty":
		writer.Format = zeroconfig.LogFormatPretty
	case "json":
		writer.Format = zeroconfig.LogFormatJSON
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	return &zeroconfig.Config{
		MinLevel: &level,
		Writers:  []zeroconfig.WriterConfig{writer},
	}, nil
}
