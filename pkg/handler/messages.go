// Copyright 2024-2026 Aiku AI

package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/mattermost"
	"github.com/aiku/mmbot/pkg/transport"
)

// Messages answers commands found in incoming messages.
type Messages struct {
	log      zerolog.Logger
	commands *Commands
	owners   []string
	private  bool
}

// NewMessages creates the message handler. In private mode only owners get
// answers.
func NewMessages(commands *Commands, owners []string, private bool, log zerolog.Logger) *Messages {
	normalized := make([]string, len(owners))
	for i, owner := range owners {
		if strings.HasPrefix(owner, "@") {
			owner = strings.ToLower(owner)
		}
		normalized[i] = owner
	}
	return &Messages{
		log:      log.With().Str("component", "messages").Logger(),
		commands: commands,
		owners:   normalized,
		private:  private,
	}
}

// isOwner matches the sender against owner addresses ("@name" or "user:<id>").
func (m *Messages) isOwner(msg transport.Message) bool {
	return slices.Contains(m.owners, mattermost.MakeUserAddress(msg.SenderID)) ||
		(msg.SenderName != "" && slices.Contains(m.owners, "@"+strings.ToLower(msg.SenderName)))
}

// HandleMessage runs the command in msg, if any, and replies in the same chat.
func (m *Messages) HandleMessage(ctx context.Context, conn transport.Socket, msg transport.Message) error {
	req, ok := m.commands.Parse(msg.Text)
	if !ok {
		return nil
	}
	req.ChatID = msg.ChatID
	req.Sender = msg.SenderID
	req.Owner = m.isOwner(msg)
	if m.private && !req.Owner {
		m.log.Debug().Str("sender", msg.SenderID).Msg("Ignoring command from non-owner in private mode")
		return nil
	}

	reply, err := m.commands.Execute(ctx, req)
	if errors.Is(err, ErrUnknownCommand) {
		m.log.Debug().Str("command", req.Name).Msg("Unknown command")
		return nil
	} else if err != nil {
		return fmt.Errorf("command %s failed: %w", req.Name, err)
	}
	if reply == "" {
		return nil
	}
	if conn == nil {
		return fmt.Errorf("failed to reply: %w", transport.ErrConnectionClosed)
	}
	if err := conn.SendMessage(ctx, msg.ChatID, transport.OutgoingMessage{Text: reply}); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", req.Name, err)
	}
	return nil
}

// HandleGroupParticipantsUpdate logs membership changes.
func (m *Messages) HandleGroupParticipantsUpdate(_ context.Context, _ transport.Socket, update transport.ParticipantsUpdate) error {
	m.log.Info().
		Str("channel_id", update.ChatID).
		Str("action", string(update.Action)).
		Strs("users", update.Participants).
		Msg("Channel membership changed")
	return nil
}

// HandleGroupUpdate logs channel metadata changes.
func (m *Messages) HandleGroupUpdate(_ context.Context, _ transport.Socket, update transport.GroupUpdate) error {
	m.log.Info().
		Str("channel_id", update.ChatID).
		Str("name", update.Name).
		Msg("Channel updated")
	return nil
}
