// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package transport defines the socket contract the session manager consumes.
//
// A [Dialer] negotiates the server version and constructs a [Socket]. The
// socket reports its lifecycle, credential changes and inbound events through
// the callbacks of a single [Subscriber]. The wire protocol itself lives in the
// implementation (see package mattermost).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrAlreadySubscribed is returned when Subscribe is called twice on one socket.
	ErrAlreadySubscribed = errors.New("socket already has a subscriber")
	// ErrNotSubscribed is returned when Start is called before Subscribe.
	ErrNotSubscribed = errors.New("socket has no subscriber")
	// ErrConnectionClosed signals that the session is gone. The boot layer
	// treats asynchronous errors wrapping it as fatal.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCorruptCredentials is returned by Dial when stored credentials can't be decoded.
	ErrCorruptCredentials = errors.New("stored credentials are corrupt")
)

// Version is the protocol/server version reported by the remote service.
type Version string

// Options are the fixed operational parameters a socket is constructed with.
type Options struct {
	Version     Version
	Credentials json.RawMessage

	ConnectTimeout      time.Duration
	QueryTimeout        time.Duration
	RetryRequestDelay   time.Duration
	PairingTimeout      time.Duration
	MarkOnlineOnConnect bool

	// AwaitCredentials blocks until externally supplied credentials appear.
	// It is only consulted when Credentials is empty.
	AwaitCredentials func(ctx context.Context) (json.RawMessage, error)
}

// DefaultOptions returns the parameters every session is opened with.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:      60 * time.Second,
		QueryTimeout:        60 * time.Second,
		RetryRequestDelay:   5 * time.Second,
		PairingTimeout:      40 * time.Second,
		MarkOnlineOnConnect: true,
	}
}

// Dialer creates sockets.
type Dialer interface {
	LatestVersion(ctx context.Context) (Version, error)
	Dial(ctx context.Context, opts Options) (Socket, error)
}

// Socket is one transport instance. Each instance accepts exactly one
// subscriber and is never reused after it reports a close.
type Socket interface {
	Subscribe(sub Subscriber) error
	Start(ctx context.Context) error
	SendMessage(ctx context.Context, to string, msg OutgoingMessage) error
	Close() error
}

// Subscriber holds the three inbound streams of a socket.
type Subscriber struct {
	OnConnectionUpdate  func(update ConnectionUpdate)
	OnCredentialsUpdate func(update json.RawMessage)
	OnEvents            func(evt InboundEvent)
}

// OutgoingMessage is a text message with an optional preview block.
type OutgoingMessage struct {
	Text    string
	Preview *Preview
}

// Preview is a small metadata card attached to an outgoing message.
type Preview struct {
	Title     string
	TitleLink string
	Text      string
	Footer    string
	Color     string
}
