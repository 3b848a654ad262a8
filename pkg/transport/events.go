// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package transport

import "time"

// ConnectionStatus is the lifecycle phase a socket reports.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusOpen       ConnectionStatus = "open"
	StatusClose      ConnectionStatus = "close"
)

// DisconnectReason classifies why a session closed.
type DisconnectReason int

const (
	// ReasonTransient covers network failures, timeouts and server restarts.
	ReasonTransient DisconnectReason = iota
	// ReasonLoggedOut means the session was revoked remotely.
	ReasonLoggedOut
	// ReasonBadSession means the local credentials are unusable.
	ReasonBadSession
)

// Terminal reports whether a reconnect can never succeed without operator action.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut || r == ReasonBadSession
}

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTransient:
		return "transient"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonBadSession:
		return "bad_session"
	default:
		return "unknown"
	}
}

// ConnectionUpdate is emitted on every lifecycle change of a socket.
type ConnectionUpdate struct {
	Connection ConnectionStatus
	Reason     DisconnectReason
	Err        error
	// PairingHint is set while the socket waits for credentials.
	PairingHint string
}

// EventKind tags an InboundEvent.
type EventKind string

const (
	KindMessageBatch            EventKind = "messages.upsert"
	KindGroupParticipantsChange EventKind = "group-participants.update"
	KindGroupMetadataChange     EventKind = "groups.update"
)

// InboundEvent is a tagged union over the protocol events the router consumes.
// Only the field matching Kind is set.
type InboundEvent struct {
	Kind         EventKind
	Messages     []Message
	Participants *ParticipantsUpdate
	Groups       []GroupUpdate
}

// Message is a single chat message.
type Message struct {
	ID         string
	ChatID     string
	ChatType   string
	ThreadID   string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  time.Time
	Raw        any
}

// ParticipantAction is what happened to the participants of a group.
type ParticipantAction string

const (
	ParticipantsAdded   ParticipantAction = "add"
	ParticipantsRemoved ParticipantAction = "remove"
)

// ParticipantsUpdate reports membership changes in one chat.
type ParticipantsUpdate struct {
	ChatID       string
	Participants []string
	Action       ParticipantAction
	ActorID      string
	Raw          any
}

// GroupUpdate reports changed metadata of one chat.
type GroupUpdate struct {
	ChatID  string
	Name    string
	Subject string
	Raw     any
}
