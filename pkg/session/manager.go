// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session owns the single logical connection to the chat server.
//
// [Manager] drives the state machine Idle → Connecting → Open → Closed and
// decides after every close whether to reconnect, using a bounded fixed-delay
// retry policy, or to terminate the process. The Connecting state doubles as
// the reentrancy guard: a Connect call while an attempt is in flight is a no-op.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/metrics"
	"github.com/aiku/mmbot/pkg/retry"
	"github.com/aiku/mmbot/pkg/transport"
)

// CredentialStore loads and persists the opaque session credentials.
type CredentialStore interface {
	Load() (json.RawMessage, error)
	Persist(update json.RawMessage) error
	Wait(ctx context.Context) (json.RawMessage, error)
}

// EventRouter receives inbound events in delivery order.
type EventRouter interface {
	Route(ctx context.Context, conn transport.Socket, evt transport.InboundEvent)
}

// Notifier sends the startup status message to one owner.
type Notifier interface {
	Notify(ctx context.Context, conn transport.Socket, owner string) error
}

// RetryPolicy bounds reconnect attempts.
type RetryPolicy interface {
	ShouldRetry(attempt int) bool
	Delay() time.Duration
}

// Params wires a Manager to its collaborators. Dialer, Store and Router are
// required; the rest have defaults.
type Params struct {
	Dialer   transport.Dialer
	Store    CredentialStore
	Router   EventRouter
	Notifier Notifier
	Owners   []string

	Policy  RetryPolicy
	Clock   Clock
	Options *transport.Options
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

// Manager is the connection lifecycle state machine.
type Manager struct {
	log      zerolog.Logger
	dialer   transport.Dialer
	store    CredentialStore
	router   EventRouter
	notifier Notifier
	owners   []string
	policy   RetryPolicy
	clock    Clock
	opts     transport.Options
	metrics  *metrics.Metrics
	exit     func(code int)

	mu         sync.Mutex
	state      State
	attempts   int
	generation uint64
	socket     transport.Socket
	timer      Timer
	notified   bool
	exited     bool
	lifetime   context.Context
	cancel     context.CancelFunc
}

// NewManager creates an idle manager.
func NewManager(p Params) *Manager {
	m := &Manager{
		log:      p.Log.With().Str("component", "session").Logger(),
		dialer:   p.Dialer,
		store:    p.Store,
		router:   p.Router,
		notifier: p.Notifier,
		owners:   p.Owners,
		policy:   p.Policy,
		clock:    p.Clock,
		metrics:  p.Metrics,
		exit:     p.Exit,
		state:    StateIdle,
	}
	if m.policy == nil {
		m.policy = retry.Default()
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.exit == nil {
		m.exit = os.Exit
	}
	if p.Options != nil {
		m.opts = *p.Options
	} else {
		m.opts = transport.DefaultOptions()
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of failed attempts since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// transition must be called with mu held.
func (m *Manager) transition(to State) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, m.state, to)
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", to).Msg("State transition")
	m.state = to
	m.metrics.SetState(int(to))
	return nil
}

// Connect starts a connection attempt unless one is already in flight or the
// session is open. Failures are never returned: they consume retry budget
// exactly like a transient close.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.lifetime == nil {
		m.lifetime, m.cancel = context.WithCancel(ctx)
	}
	if err := m.transition(StateConnecting); err != nil {
		state := m.state
		m.mu.Unlock()
		m.log.Debug().Stringer("state", state).Msg("Connect ignored, session already active")
		return
	}
	m.generation++
	gen := m.generation
	if m.timer != nil {
		// A pending reconnect is superseded by this attempt.
		m.timer.Stop()
		m.timer = nil
	}
	attempts := m.attempts
	m.mu.Unlock()

	m.metrics.ConnectAttempt()
	m.log.Info().Int("attempt", attempts).Msg("Connecting")

	if err := m.open(ctx, gen); err != nil {
		m.log.Error().Err(err).Msg("Failed to start session")
		m.handleClose(gen, transport.ConnectionUpdate{
			Connection: transport.StatusClose,
			Reason:     classify(err),
			Err:        err,
		})
	}
}

func (m *Manager) open(ctx context.Context, gen uint64) error {
	creds, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	opts := m.opts
	opts.Credentials = creds
	if creds == nil {
		m.log.Info().Msg("No stored session, waiting for pairing")
		opts.AwaitCredentials = m.store.Wait
	}

	version, err := m.dialer.LatestVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch latest protocol version: %w", err)
	}
	opts.Version = version
	m.log.Info().Str("version", string(version)).Msg("Negotiated protocol version")

	sock, err := m.dialer.Dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation || m.state != StateConnecting {
		// Close() ran while we were dialing.
		m.mu.Unlock()
		_ = sock.Close()
		return nil
	}
	m.socket = sock
	lifetime := m.lifetime
	m.mu.Unlock()

	err = sock.Subscribe(transport.Subscriber{
		OnConnectionUpdate: func(update transport.ConnectionUpdate) {
			m.handleConnectionUpdate(gen, sock, update)
		},
		OnCredentialsUpdate: m.persistCredentials,
		OnEvents: func(evt transport.InboundEvent) {
			m.routeEvent(gen, sock, evt)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to socket: %w", err)
	}
	if err := sock.Start(lifetime); err != nil {
		return fmt.Errorf("failed to start socket: %w", err)
	}
	return nil
}

func classify(err error) transport.DisconnectReason {
	if errors.Is(err, transport.ErrCorruptCredentials) {
		return transport.ReasonBadSession
	}
	return transport.ReasonTransient
}

func (m *Manager) handleConnectionUpdate(gen uint64, sock transport.Socket, update transport.ConnectionUpdate) {
	switch update.Connection {
	case transport.StatusConnecting:
		if update.PairingHint != "" {
			m.log.Info().Str("hint", update.PairingHint).Msg("Waiting for session pairing")
		} else {
			m.log.Debug().Msg("Socket connecting")
		}
	case transport.StatusOpen:
		m.handleOpen(gen, sock)
	case transport.StatusClose:
		m.handleClose(gen, update)
	default:
		m.log.Warn().Str("connection", string(update.Connection)).Msg("Unknown connection update")
	}
}

func (m *Manager) handleOpen(gen uint64, sock transport.Socket) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnecting {
		m.mu.Unlock()
		m.log.Debug().Uint64("generation", gen).Msg("Ignoring open from superseded socket")
		return
	}
	_ = m.transition(StateOpen)
	m.attempts = 0
	first := !m.notified
	m.notified = true
	ctx := m.lifetime
	m.mu.Unlock()

	m.log.Info().Bool("first_open", first).Msg("Session open")
	if first {
		m.notifyOwners(ctx, sock)
	}
}

// notifyOwners runs sequentially; one unreachable owner doesn't stop the rest.
func (m *Manager) notifyOwners(ctx context.Context, sock transport.Socket) {
	if m.notifier == nil {
		return
	}
	for _, owner := range m.owners {
		if err := m.notifier.Notify(ctx, sock, owner); err != nil {
			m.log.Warn().Err(err).Str("owner", owner).Msg("Failed to send startup notification")
			m.metrics.NotificationSent(false)
			continue
		}
		m.metrics.NotificationSent(true)
	}
}

func (m *Manager) handleClose(gen uint64, update transport.ConnectionUpdate) {
	m.mu.Lock()
	if gen != m.generation || (m.state != StateConnecting && m.state != StateOpen) {
		m.mu.Unlock()
		m.log.Debug().Uint64("generation", gen).Msg("Ignoring close from superseded socket")
		return
	}
	_ = m.transition(StateClosed)
	sock := m.socket
	m.socket = nil

	var terminateReason string
	var delay time.Duration
	if update.Reason.Terminal() {
		terminateReason = update.Reason.String()
	} else {
		m.attempts++
		if !m.policy.ShouldRetry(m.attempts) {
			terminateReason = "retries_exhausted"
		} else {
			delay = m.policy.Delay()
			m.timer = m.clock.AfterFunc(delay, m.reconnect)
		}
	}
	attempts := m.attempts
	callExit := false
	if terminateReason != "" {
		_ = m.transition(StateTerminated)
		callExit = !m.exited
		m.exited = true
	}
	m.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			m.log.Debug().Err(err).Msg("Error closing socket")
		}
	}

	log := m.log.With().
		Stringer("reason", update.Reason).
		Int("attempt", attempts).
		AnErr("cause", update.Err).
		Logger()
	if terminateReason == "" {
		m.metrics.ReconnectScheduled()
		log.Warn().Dur("delay", delay).Msg("Connection closed, reconnecting")
		return
	}

	m.metrics.Terminated(terminateReason)
	switch update.Reason {
	case transport.ReasonLoggedOut:
		log.Error().Msg("Session logged out, pair the bot again to continue")
	case transport.ReasonBadSession:
		log.Error().Msg("Stored session is unusable, replace the credentials to continue")
	default:
		log.Error().Msg("Retry budget exhausted, giving up")
	}
	if callExit {
		m.exit(1)
	}
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	ctx := m.lifetime
	m.mu.Unlock()
	m.Connect(ctx)
}

func (m *Manager) persistCredentials(update json.RawMessage) {
	if err := m.store.Persist(update); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist credential update")
		m.metrics.CredentialsSaved(false)
		return
	}
	m.metrics.CredentialsSaved(true)
}

func (m *Manager) routeEvent(gen uint64, sock transport.Socket, evt transport.InboundEvent) {
	m.mu.Lock()
	current := gen == m.generation
	ctx := m.lifetime
	m.mu.Unlock()
	if !current {
		m.log.Debug().Str("kind", string(evt.Kind)).Msg("Dropping event from superseded socket")
		return
	}
	m.router.Route(ctx, sock, evt)
}

// Close shuts the session down without invoking the exit hook.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return nil
	}
	_ = m.transition(StateTerminated)
	m.generation++
	sock := m.socket
	m.socket = nil
	timer := m.timer
	m.timer = nil
	cancel := m.cancel
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.log.Info().Msg("Session manager stopped")
	if sock != nil {
		return sock.Close()
	}
	return nil
}
