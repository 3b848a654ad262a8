// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mmbot/pkg/transport"
)

// SendMessage posts msg to the channel the address resolves to. A server error
// is retried once after RetryRequestDelay.
func (s *Socket) SendMessage(ctx context.Context, to string, msg transport.OutgoingMessage) error {
	s.mu.Lock()
	selfID := s.creds.UserID
	s.mu.Unlock()
	if selfID == "" {
		return fmt.Errorf("failed to send message: %w", transport.ErrConnectionClosed)
	}

	channelID, err := s.resolveChannel(ctx, selfID, to)
	if err != nil {
		return err
	}

	post := &model.Post{
		ChannelId: channelID,
		Message:   msg.Text,
	}
	if p := msg.Preview; p != nil {
		post.AddProp("attachments", []*model.SlackAttachment{{
			Fallback:  p.Title,
			Title:     p.Title,
			TitleLink: p.TitleLink,
			Text:      p.Text,
			Footer:    p.Footer,
			Color:     p.Color,
		}})
	}

	_, resp, err := s.client.CreatePost(ctx, post)
	if err != nil && isServerError(resp, err) && s.opts.RetryRequestDelay > 0 {
		s.log.Debug().Err(err).Dur("delay", s.opts.RetryRequestDelay).Msg("Post failed, retrying once")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.RetryRequestDelay):
		}
		_, _, err = s.client.CreatePost(ctx, post)
	}
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *Socket) resolveChannel(ctx context.Context, selfID, to string) (string, error) {
	addr, err := ParseAddress(to)
	if err != nil {
		return "", err
	}
	switch addr.Kind {
	case AddressUsername:
		user, _, err := s.client.GetUserByUsername(ctx, addr.Value, "")
		if err != nil {
			return "", fmt.Errorf("failed to look up user %s: %w", addr.Value, err)
		}
		return s.directChannel(ctx, selfID, user.Id)
	case AddressUserID:
		return s.directChannel(ctx, selfID, addr.Value)
	default:
		return addr.Value, nil
	}
}

func (s *Socket) directChannel(ctx context.Context, selfID, userID string) (string, error) {
	channel, _, err := s.client.CreateDirectChannel(ctx, selfID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to open direct channel with %s: %w", userID, err)
	}
	return channel.Id, nil
}
