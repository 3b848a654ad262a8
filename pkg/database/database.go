// Copyright 2024-2026 Aiku AI

// Package database opens the bot's SQL database through dbutil.
package database

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/mmbot/pkg/config"
)

var ErrUnsupportedType = errors.New("unsupported database type")

// Connect opens the configured database and pings it.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*dbutil.Database, error) {
	switch cfg.Type {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedType, cfg.Type)
	}
	db, err := dbutil.NewWithDialect(cfg.URI, cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("component", "database").Logger())
	if cfg.MaxOpenConns > 0 {
		db.RawDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.RawDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err = db.RawDB.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Type, err)
	}
	log.Debug().Str("type", cfg.Type).Msg("Database connected")
	return db, nil
}
