// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/retry"
	"github.com/aiku/mmbot/pkg/transport"
)

// fakeStore is an in-memory CredentialStore.
type fakeStore struct {
	mu        sync.Mutex
	creds     json.RawMessage
	loadErr   error
	persisted []json.RawMessage
}

func (s *fakeStore) Load() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.loadErr
}

func (s *fakeStore) Persist(update json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, update)
	return nil
}

func (s *fakeStore) Wait(ctx context.Context) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeStore) Persisted() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.persisted...)
}

// fakeSocket records subscriptions and lets tests emit updates.
type fakeSocket struct {
	mu             sync.Mutex
	subscribeCount int
	sub            transport.Subscriber
	started        bool
	closed         bool
	// onStart runs synchronously inside Start.
	onStart func(s *fakeSocket)
}

func (s *fakeSocket) Subscribe(sub transport.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeCount++
	if s.subscribeCount > 1 {
		return transport.ErrAlreadySubscribed
	}
	s.sub = sub
	return nil
}

func (s *fakeSocket) Start(_ context.Context) error {
	s.mu.Lock()
	s.started = true
	onStart := s.onStart
	s.mu.Unlock()
	if onStart != nil {
		onStart(s)
	}
	return nil
}

func (s *fakeSocket) SendMessage(context.Context, string, transport.OutgoingMessage) error {
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) SubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCount
}

func (s *fakeSocket) subscriber() transport.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *fakeSocket) emit(update transport.ConnectionUpdate) {
	s.subscriber().OnConnectionUpdate(update)
}

func (s *fakeSocket) open() {
	s.emit(transport.ConnectionUpdate{Connection: transport.StatusOpen})
}

func (s *fakeSocket) closeWith(reason transport.DisconnectReason) {
	s.emit(transport.ConnectionUpdate{Connection: transport.StatusClose, Reason: reason})
}

// fakeDialer hands out fakeSockets and records the options it was given.
type fakeDialer struct {
	mu         sync.Mutex
	sockets    []*fakeSocket
	opts       []transport.Options
	versionErr error
	dialErrs   []error
	onStart    func(s *fakeSocket)
	// dialGate, when set, blocks Dial until it is closed.
	dialGate chan struct{}
	dialing  chan struct{}
}

func (d *fakeDialer) LatestVersion(context.Context) (transport.Version, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.versionErr != nil {
		return "", d.versionErr
	}
	return "10.5.0", nil
}

func (d *fakeDialer) Dial(_ context.Context, opts transport.Options) (transport.Socket, error) {
	d.mu.Lock()
	gate, dialing := d.dialGate, d.dialing
	d.mu.Unlock()
	if dialing != nil {
		close(dialing)
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = append(d.opts, opts)
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSocket{onStart: d.onStart}
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) Sockets() []*fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSocket(nil), d.sockets...)
}

func (d *fakeDialer) last() *fakeSocket {
	sockets := d.Sockets()
	if len(sockets) == 0 {
		return nil
	}
	return sockets[len(sockets)-1]
}

func (d *fakeDialer) Options() []transport.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Options(nil), d.opts...)
}

// manualClock collects AfterFunc calls; tests fire them explicitly.
type manualClock struct {
	mu      sync.Mutex
	pending []*manualTimer
	delays  []time.Duration
}

type manualTimer struct {
	clock   *manualClock
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.pending = append(c.pending, t)
	c.delays = append(c.delays, d)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the number of timers that are neither stopped nor fired.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireNext runs the oldest live timer. It reports false if none was pending.
func (c *manualClock) FireNext() bool {
	c.mu.Lock()
	var next *manualTimer
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	c.mu.Unlock()
	if next == nil {
		return false
	}
	next.f()
	return true
}

func (c *manualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// fakeNotifier records the owners it was asked to notify.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (n *fakeNotifier) Notify(_ context.Context, _ transport.Socket, owner string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, owner)
	return n.fail[owner]
}

func (n *fakeNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// fakeRouter records routed events.
type fakeRouter struct {
	mu     sync.Mutex
	events []transport.InboundEvent
	conns  []transport.Socket
}

func (r *fakeRouter) Route(_ context.Context, conn transport.Socket, evt transport.InboundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	r.conns = append(r.conns, conn)
}

func (r *fakeRouter) Events() []transport.InboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.InboundEvent(nil), r.events...)
}

// exitRecorder replaces os.Exit.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) Exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

type harness struct {
	manager  *Manager
	dialer   *fakeDialer
	store    *fakeStore
	clock    *manualClock
	notifier *fakeNotifier
	router   *fakeRouter
	exits    *exitRecorder
}

func newHarness(owners ...string) *harness {
	h := &harness{
		dialer:   &fakeDialer{},
		store:    &fakeStore{creds: json.RawMessage(`{"token":"t"}`)},
		clock:    &manualClock{},
		notifier: &fakeNotifier{},
		router:   &fakeRouter{},
		exits:    &exitRecorder{},
	}
	h.manager = NewManager(Params{
		Dialer:   h.dialer,
		Store:    h.store,
		Router:   h.router,
		Notifier: h.notifier,
		Owners:   owners,
		Policy:   retry.Default(),
		Clock:    h.clock,
		Log:      zerolog.Nop(),
		Exit:     h.exits.Exit,
	})
	return h
}
