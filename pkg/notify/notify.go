// Copyright 2024-2026 Aiku AI

// Package notify sends the startup status message to the bot owners.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aiku/mmbot/pkg/transport"
)

// Mode is whether the bot answers everyone or only its owners.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// Notifier formats and sends the status message. The zero Location is UTC.
type Notifier struct {
	BotName   string
	Version   string
	OwnerName string
	Prefix    string
	Mode      Mode
	Location  *time.Location
	// RepoURL becomes the preview title link when set.
	RepoURL string

	// Now is overridable for tests.
	Now func() time.Time
}

// Notify sends the status message to a single owner address.
func (n *Notifier) Notify(ctx context.Context, conn transport.Socket, owner string) error {
	if conn == nil {
		return fmt.Errorf("failed to notify %s: %w", owner, transport.ErrConnectionClosed)
	}
	if err := conn.SendMessage(ctx, owner, n.Message()); err != nil {
		return fmt.Errorf("failed to notify %s: %w", owner, err)
	}
	return nil
}

// Message builds the status message for the current time.
func (n *Notifier) Message() transport.OutgoingMessage {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	t := now().In(loc)
	mode := n.Mode
	if mode == "" {
		mode = ModePublic
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** is online\n\n", n.BotName)
	fmt.Fprintf(&sb, "| | |\n|:--|:--|\n")
	fmt.Fprintf(&sb, "| Version | %s |\n", n.Version)
	fmt.Fprintf(&sb, "| Time | %s |\n", t.Format("15:04:05"))
	fmt.Fprintf(&sb, "| Date | %s |\n", t.Format("Monday, 2 January 2006"))
	fmt.Fprintf(&sb, "| Timezone | %s |\n", loc.String())
	fmt.Fprintf(&sb, "| Mode | %s |\n", mode)
	fmt.Fprintf(&sb, "| Owner | %s |\n", n.OwnerName)
	fmt.Fprintf(&sb, "| Prefix | `%s` |\n", n.Prefix)

	return transport.OutgoingMessage{
		Text: sb.String(),
		Preview: &transport.Preview{
			Title:     n.BotName + " " + n.Version,
			TitleLink: n.RepoURL,
			Text:      fmt.Sprintf("Type `%shelp` to list the available commands.", n.Prefix),
			Footer:    "Started " + t.Format(time.RFC1123),
			Color:     "#3AA3E3",
		},
	}
}
