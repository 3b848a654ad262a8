// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package boot runs the one-time startup sequence of the bot.
//
// [Sequencer.Start] runs every step in a fixed order and stops at the first
// failure, so the process is either fully initialized or not running. After
// the liveness server is bound, errors from background goroutines go through
// [Sequencer.HandleAsyncError] instead.
package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/transport"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// CommandInitializer is the command registry.
type CommandInitializer interface {
	InitializeCommands(ctx context.Context) error
}

// EventLoader is the generic event registry.
type EventLoader interface {
	LoadEvents(ctx context.Context) error
}

// CredentialBootstrapper replaces stored credentials from an encoded blob.
type CredentialBootstrapper interface {
	Bootstrap(blob string) bool
}

// Connector is the connection manager.
type Connector interface {
	Connect(ctx context.Context)
	Close() error
}

// DatabaseConnector opens the database. The returned closer is closed on
// shutdown.
type DatabaseConnector func(ctx context.Context) (io.Closer, error)

// Params wires the sequencer. Every collaborator is required except Metrics.
type Params struct {
	Name        string
	Version     string
	Directories []string

	ConnectDatabase DatabaseConnector
	Store           CredentialBootstrapper
	// Bootstrap is the optional base64 credential blob.
	Bootstrap string
	Commands  CommandInitializer
	Events    EventLoader
	Manager   Connector

	LivenessAddr string
	// Metrics is served on /metrics when set.
	Metrics http.Handler

	Banner io.Writer
	Log    zerolog.Logger
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

// Sequencer owns the startup order and the resources it opened.
type Sequencer struct {
	p   Params
	log zerolog.Logger

	db       io.Closer
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	exitOnce sync.Once
}

func New(p Params) *Sequencer {
	if p.Exit == nil {
		p.Exit = os.Exit
	}
	if p.Banner == nil {
		p.Banner = os.Stdout
	}
	return &Sequencer{
		p:   p,
		log: p.Log.With().Str("component", "boot").Logger(),
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Start runs the startup steps in order. The first failing step aborts the
// sequence and its error is returned.
func (s *Sequencer) Start(ctx context.Context) error {
	steps := []step{
		{"print banner", s.printBanner},
		{"ensure directories", s.ensureDirectories},
		{"connect to database", s.connectDatabase},
		{"bootstrap credentials", s.bootstrapCredentials},
		{"initialize commands", s.p.Commands.InitializeCommands},
		{"load events", s.p.Events.LoadEvents},
		{"start connection", s.connect},
		{"start liveness server", s.startLiveness},
	}
	for _, st := range steps {
		s.log.Debug().Str("step", st.name).Msg("Boot step")
		if err := st.run(ctx); err != nil {
			return fmt.Errorf("failed to %s: %w", st.name, err)
		}
	}
	s.log.Info().Str("liveness", s.Addr()).Msg("Startup complete")
	return nil
}

// Run starts the bot and blocks until ctx is cancelled, then shuts down.
func (s *Sequencer) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		_ = s.Shutdown()
		return err
	}
	<-ctx.Done()
	s.log.Info().Msg("Shutting down")
	return s.Shutdown()
}

// Shutdown stops the connection, the liveness server and the database, in
// that order. Safe to call after a partial Start.
func (s *Sequencer) Shutdown() error {
	var errs []error
	if s.p.Manager != nil {
		if err := s.p.Manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close session: %w", err))
		}
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop liveness server: %w", err))
		}
		cancel()
	}
	s.wg.Wait()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		s.db = nil
	}
	return errors.Join(errs...)
}

// Addr is the bound liveness address, or "" before the server starts.
func (s *Sequencer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HandleAsyncError is the last-resort handler for errors that surface outside
// the startup sequence. Only a closed connection is fatal; anything else is
// logged and the process keeps running.
func (s *Sequencer) HandleAsyncError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, transport.ErrConnectionClosed) {
		s.log.Error().Err(err).Msg("Connection closed unexpectedly, exiting")
		s.exit(1)
		return
	}
	s.log.Error().Err(err).Msg("Unhandled background error")
}

// Go runs fn in a goroutine. A returned error goes to HandleAsyncError. A
// panic is always fatal.
func (s *Sequencer) Go(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Str("goroutine", name).
					Any("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Panic in background goroutine, exiting")
				s.exit(1)
			}
		}()
		if err := fn(); err != nil {
			s.HandleAsyncError(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *Sequencer) exit(code int) {
	s.exitOnce.Do(func() { s.p.Exit(code) })
}

func (s *Sequencer) ensureDirectories(_ context.Context) error {
	for _, dir := range s.p.Directories {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) connectDatabase(ctx context.Context) error {
	db, err := s.p.ConnectDatabase(ctx)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *Sequencer) bootstrapCredentials(_ context.Context) error {
	if s.p.Bootstrap == "" {
		return nil
	}
	if s.p.Store.Bootstrap(s.p.Bootstrap) {
		s.log.Info().Msg("Session credentials replaced from bootstrap blob")
	} else {
		s.log.Warn().Msg("Ignoring invalid bootstrap blob, keeping stored session")
	}
	return nil
}

func (s *Sequencer) connect(ctx context.Context) error {
	s.p.Manager.Connect(ctx)
	return nil
}
