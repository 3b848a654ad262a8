// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mmbot/pkg/transport"
)

// handleEvent translates a Mattermost WebSocket event into an InboundEvent.
func (s *Socket) handleEvent(evt *model.WebSocketEvent, selfID string) {
	var (
		out transport.InboundEvent
		err error
		ok  bool
	)
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		out, ok, err = parsePostedEvent(evt, selfID)
	case model.WebsocketEventUserAdded:
		out, ok, err = parseMembershipEvent(evt, transport.ParticipantsAdded)
	case model.WebsocketEventUserRemoved:
		out, ok, err = parseMembershipEvent(evt, transport.ParticipantsRemoved)
	case model.WebsocketEventChannelUpdated:
		out, ok, err = parseChannelUpdatedEvent(evt)
	default:
		s.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", string(evt.EventType())).Msg("Failed to parse event")
		return
	}
	if !ok {
		return
	}
	s.emitEvent(out)
}

// parsePostedEvent extracts a post. Own posts and system messages are skipped
// so the bot never reacts to itself.
func parsePostedEvent(evt *model.WebSocketEvent, selfID string) (transport.InboundEvent, bool, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return transport.InboundEvent{}, false, fmt.Errorf("posted event missing post data")
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return transport.InboundEvent{}, false, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	if post.UserId == selfID {
		return transport.InboundEvent{}, false, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return transport.InboundEvent{}, false, nil
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	channelType, _ := evt.GetData()["channel_type"].(string)
	return transport.InboundEvent{
		Kind: transport.KindMessageBatch,
		Messages: []transport.Message{{
			ID:         post.Id,
			ChatID:     post.ChannelId,
			ChatType:   channelType,
			ThreadID:   post.RootId,
			SenderID:   post.UserId,
			SenderName: strings.TrimPrefix(senderName, "@"),
			Text:       post.Message,
			Timestamp:  time.UnixMilli(post.CreateAt),
			Raw:        &post,
		}},
	}, true, nil
}

// parseMembershipEvent handles user_added and user_removed. A removal
// broadcast to the removed user carries the channel in the payload instead of
// the broadcast.
func parseMembershipEvent(evt *model.WebSocketEvent, action transport.ParticipantAction) (transport.InboundEvent, bool, error) {
	data := evt.GetData()
	channelID := evt.GetBroadcast().ChannelId
	if channelID == "" {
		channelID, _ = data["channel_id"].(string)
	}
	userID, _ := data["user_id"].(string)
	if userID == "" {
		userID = evt.GetBroadcast().UserId
	}
	if channelID == "" || userID == "" {
		return transport.InboundEvent{}, false, fmt.Errorf("%s event missing channel or user", evt.EventType())
	}
	actorID, _ := data["remover_id"].(string)
	return transport.InboundEvent{
		Kind: transport.KindGroupParticipantsChange,
		Participants: &transport.ParticipantsUpdate{
			ChatID:       channelID,
			Participants: []string{userID},
			Action:       action,
			ActorID:      actorID,
			Raw:          data,
		},
	}, true, nil
}

func parseChannelUpdatedEvent(evt *model.WebSocketEvent) (transport.InboundEvent, bool, error) {
	channelJSON, ok := evt.GetData()["channel"].(string)
	if !ok {
		return transport.InboundEvent{}, false, fmt.Errorf("channel_updated event missing channel data")
	}
	var channel model.Channel
	if err := json.Unmarshal([]byte(channelJSON), &channel); err != nil {
		return transport.InboundEvent{}, false, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return transport.InboundEvent{
		Kind: transport.KindGroupMetadataChange,
		Groups: []transport.GroupUpdate{{
			ChatID:  channel.Id,
			Name:    channel.DisplayName,
			Subject: channel.Purpose,
			Raw:     &channel,
		}},
	}, true, nil
}
