// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost implements the transport contract on top of the
// Mattermost REST API and WebSocket event stream.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/transport"
)

// Config holds the server address and the optional password login used for
// pairing when no session token is stored.
type Config struct {
	ServerURL string
	LoginID   string
	Password  string
}

// eventStream is the part of model.WebSocketClient the socket consumes.
type eventStream interface {
	Events() <-chan *model.WebSocketEvent
	Close()
}

type wsStream struct {
	client *model.WebSocketClient
}

func (w wsStream) Events() <-chan *model.WebSocketEvent { return w.client.EventChannel }
func (w wsStream) Close()                                { w.client.Close() }

func dialWebSocket(serverURL, token string) (eventStream, error) {
	ws, err := model.NewWebSocketClient4(httpToWS(serverURL), token)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	return wsStream{client: ws}, nil
}

// Dialer creates Mattermost sockets.
type Dialer struct {
	cfg Config
	log zerolog.Logger

	// pingTimeout bounds version negotiation, which runs before any socket
	// options exist.
	pingTimeout time.Duration
	dialStream  func(serverURL, token string) (eventStream, error)
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer for the given server.
func NewDialer(cfg Config, log zerolog.Logger) *Dialer {
	defaults := transport.DefaultOptions()
	return &Dialer{
		cfg:         cfg,
		log:         log.With().Str("component", "mm_transport").Logger(),
		pingTimeout: defaults.QueryTimeout,
		dialStream:  dialWebSocket,
	}
}

// LatestVersion pings the server and returns the version it reports in the
// X-Version-Id header.
func (d *Dialer) LatestVersion(ctx context.Context) (transport.Version, error) {
	client := model.NewAPIv4Client(d.cfg.ServerURL)
	client.HTTPClient = newHTTPClient(d.pingTimeout, d.pingTimeout)
	ctx, cancel := context.WithTimeout(ctx, d.pingTimeout)
	defer cancel()
	_, resp, err := client.GetPing(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to ping server: %w", err)
	}
	if resp == nil || resp.ServerVersion == "" {
		return "", errors.New("server did not report a version")
	}
	return transport.Version(resp.ServerVersion), nil
}

// Dial builds an unstarted socket. It fails with transport.ErrCorruptCredentials
// when the stored session can't be decoded.
func (d *Dialer) Dial(_ context.Context, opts transport.Options) (transport.Socket, error) {
	creds, err := decodeCredentials(opts.Credentials)
	if err != nil {
		return nil, err
	}
	if creds.ServerURL != "" && creds.ServerURL != d.cfg.ServerURL {
		d.log.Warn().
			Str("stored", creds.ServerURL).
			Str("configured", d.cfg.ServerURL).
			Msg("Stored session belongs to a different server, using configured URL")
	}

	client := model.NewAPIv4Client(d.cfg.ServerURL)
	client.HTTPClient = newHTTPClient(opts.QueryTimeout, opts.ConnectTimeout)

	return &Socket{
		log:        d.log.With().Str("version", string(opts.Version)).Logger(),
		cfg:        d.cfg,
		opts:       opts,
		creds:      creds,
		client:     client,
		dialStream: d.dialStream,
		stop:       make(chan struct{}),
	}, nil
}

func newHTTPClient(queryTimeout, connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: queryTimeout,
		Transport: &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
}
