// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of the single logical session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errInvalidTransition = errors.New("invalid state transition")

// transitions lists the legal edges. Every live state may also jump to
// Terminated for a graceful shutdown.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateTerminated},
	StateConnecting: {StateOpen, StateClosed, StateTerminated},
	StateOpen:       {StateClosed, StateTerminated},
	StateClosed:     {StateConnecting, StateTerminated},
	StateTerminated: nil,
}

func canTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
