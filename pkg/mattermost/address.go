// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

var ErrInvalidAddress = errors.New("invalid recipient address")

// AddressKind says how a recipient address resolves to a channel.
type AddressKind int

const (
	// AddressChannel is a bare Mattermost channel ID.
	AddressChannel AddressKind = iota
	// AddressUsername is "@name" and resolves to a direct channel.
	AddressUsername
	// AddressUserID is "user:<id>" and resolves to a direct channel.
	AddressUserID
)

// Address is a parsed recipient.
type Address struct {
	Kind  AddressKind
	Value string
}

// ParseAddress parses "@username", "user:<id>" or a channel ID.
func ParseAddress(addr string) (Address, error) {
	addr = strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(addr, "@"):
		name := strings.ToLower(strings.TrimPrefix(addr, "@"))
		if !model.IsValidUsername(name) {
			return Address{}, fmt.Errorf("%w: bad username %q", ErrInvalidAddress, addr)
		}
		return Address{Kind: AddressUsername, Value: name}, nil
	case strings.HasPrefix(addr, "user:"):
		id := strings.TrimPrefix(addr, "user:")
		if !model.IsValidId(id) {
			return Address{}, fmt.Errorf("%w: bad user ID %q", ErrInvalidAddress, addr)
		}
		return Address{Kind: AddressUserID, Value: id}, nil
	case model.IsValidId(addr):
		return Address{Kind: AddressChannel, Value: addr}, nil
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
}

// MakeUserAddress returns the address that reaches a user by ID.
func MakeUserAddress(userID string) string {
	return "user:" + userID
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
