// Copyright 2024-2026 Aiku AI

package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"go.mau.fi/zeroconfig"

	"github.com/aiku/mmbot/pkg/config"
)

func TestCompile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.LoggingConfig
		level   zerolog.Level
		typ     zeroconfig.WriterType
		format  zeroconfig.LogFormat
		wantErr bool
	}{
		{"defaults", config.LoggingConfig{}, zerolog.InfoLevel, zeroconfig.WriterTypeStdout, zeroconfig.LogFormatPrettyColored, false},
		{"json stderr", config.LoggingConfig{MinLevel: "DEBUG", Format: "json", Writer: "stderr"}, zerolog.DebugLevel, zeroconfig.WriterTypeStderr, zeroconfig.LogFormatJSON, false},
		{"pretty trace", config.LoggingConfig{MinLevel: "trace", Format: "pretty"}, zerolog.TraceLevel, zeroconfig.WriterTypeStdout, zeroconfig.LogFormatPretty, false},
		{"bad level", config.LoggingConfig{MinLevel: "loud"}, 0, "", "", true},
		{"bad writer", config.LoggingConfig{Writer: "syslog"}, 0, "", "", true},
		{"bad format", config.LoggingConfig{Format: "xml"}, 0, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			zc, err := Compile(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if *zc.MinLevel != tt.level {
				t.Errorf("level = %s, want %s", zc.MinLevel, tt.level)
			}
			if len(zc.Writers) != 1 || zc.Writers[0].Type != tt.typ || zc.Writers[0].Format != tt.format {
				t.Errorf("writers = %+v", zc.Writers)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	log, err := New(config.LoggingConfig{MinLevel: "warn", Format: "json", Writer: "stderr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log == nil {
		t.Fatal("nil logger")
	}
}
