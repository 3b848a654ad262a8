// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/transport"
)

var errAlreadyStarted = errors.New("socket already started")

// Socket is one Mattermost session: a REST client plus one WebSocket stream.
// It reports a single close and is discarded afterwards.
type Socket struct {
	log    zerolog.Logger
	cfg    Config
	opts   transport.Options
	client *model.Client4

	dialStream func(serverURL, token string) (eventStream, error)

	mu      sync.Mutex
	creds   Credentials
	sub     *transport.Subscriber
	started bool
	stream  eventStream

	stop     chan struct{}
	stopOnce sync.Once
}

var _ transport.Socket = (*Socket)(nil)

// Subscribe installs the only subscriber this socket will ever have.
func (s *Socket) Subscribe(sub transport.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return transport.ErrAlreadySubscribed
	}
	s.sub = &sub
	return nil
}

// Start launches the connection loop and returns immediately. Progress is
// reported through the subscriber.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return transport.ErrNotSubscribed
	}
	if s.started {
		return errAlreadyStarted
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Close stops the loop and the WebSocket. It does not emit a close update.
func (s *Socket) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	return nil
}

func (s *Socket) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Socket) emitUpdate(update transport.ConnectionUpdate) {
	if s.stopped() {
		return
	}
	if fn := s.sub.OnConnectionUpdate; fn != nil {
		fn(update)
	}
}

func (s *Socket) emitClose(reason transport.DisconnectReason, err error) {
	s.emitUpdate(transport.ConnectionUpdate{
		Connection: transport.StatusClose,
		Reason:     reason,
		Err:        err,
	})
}

func (s *Socket) emitCredentials(prev, next Credentials) {
	update := prev.diff(next)
	if update == nil {
		return
	}
	if fn := s.sub.OnCredentialsUpdate; fn != nil {
		fn(update)
	}
}

func (s *Socket) emitEvent(evt transport.InboundEvent) {
	if s.stopped() {
		return
	}
	if fn := s.sub.OnEvents; fn != nil {
		fn(evt)
	}
}

func (s *Socket) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.emitUpdate(transport.ConnectionUpdate{Connection: transport.StatusConnecting})

	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	if creds.Token == "" {
		paired, err := s.pair(ctx)
		if err != nil {
			if s.stopped() {
				return
			}
			s.log.Err(err).Msg("Pairing failed")
			s.emitClose(classifyPairingError(err), err)
			return
		}
		s.emitCredentials(creds, paired)
		creds = paired
	}
	s.client.SetToken(creds.Token)

	verifyCtx, cancelVerify := s.connectContext(ctx)
	me, resp, err := s.client.GetMe(verifyCtx, "")
	cancelVerify()
	if err != nil {
		s.log.Err(err).Msg("Failed to verify Mattermost session")
		if isUnauthorized(resp, err) {
			s.emitClose(transport.ReasonLoggedOut, err)
		} else {
			s.emitClose(transport.ReasonTransient, err)
		}
		return
	}
	s.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	next := creds
	next.ServerURL = s.cfg.ServerURL
	next.UserID = me.Id
	next.Username = me.Username
	if next.TeamID == "" {
		teamID, err := fetchFirstTeamID(ctx, s.client, me.Id)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to look up team")
		}
		next.TeamID = teamID
	}
	s.emitCredentials(creds, next)
	s.mu.Lock()
	s.creds = next
	s.mu.Unlock()

	if s.opts.MarkOnlineOnConnect {
		_, _, err := s.client.UpdateUserStatus(ctx, me.Id, &model.Status{UserId: me.Id, Status: model.StatusOnline})
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to mark bot online")
		}
	}

	stream, err := s.dialStream(s.cfg.ServerURL, creds.Token)
	if err != nil {
		s.log.Err(err).Msg("WebSocket connection failed")
		s.emitClose(transport.ReasonTransient, err)
		return
	}
	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()

	s.log.Info().Str("server_url", s.cfg.ServerURL).Msg("WebSocket connected")
	s.emitUpdate(transport.ConnectionUpdate{Connection: transport.StatusOpen})
	s.listen(ctx, stream, me.Id)
}

func (s *Socket) listen(ctx context.Context, stream eventStream, selfID string) {
	events := stream.Events()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				s.handleStreamClosed(ctx)
				return
			}
			if evt == nil {
				continue
			}
			s.handleEvent(evt, selfID)
		}
	}
}

// handleStreamClosed probes the session to tell a revoked token apart from a
// network drop.
func (s *Socket) handleStreamClosed(ctx context.Context) {
	if s.stopped() {
		return
	}
	s.log.Warn().Msg("WebSocket event channel closed")
	probeCtx, cancel := s.connectContext(ctx)
	defer cancel()
	_, resp, err := s.client.GetMe(probeCtx, "")
	if err != nil && isUnauthorized(resp, err) {
		s.emitClose(transport.ReasonLoggedOut, err)
		return
	}
	s.emitClose(transport.ReasonTransient, transport.ErrConnectionClosed)
}

func (s *Socket) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.ConnectTimeout)
}

// statusCode extracts the HTTP status of a failed Client4 call.
func statusCode(resp *model.Response, err error) int {
	if resp != nil && resp.StatusCode != 0 {
		return resp.StatusCode
	}
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

func isUnauthorized(resp *model.Response, err error) bool {
	return statusCode(resp, err) == http.StatusUnauthorized
}

func isServerError(resp *model.Response, err error) bool {
	return statusCode(resp, err) >= http.StatusInternalServerError
}

func classifyPairingError(err error) transport.DisconnectReason {
	switch {
	case errors.Is(err, errNoPairingMethod):
		return transport.ReasonBadSession
	case errors.Is(err, errLoginRejected):
		return transport.ReasonLoggedOut
	default:
		return transport.ReasonTransient
	}
}
