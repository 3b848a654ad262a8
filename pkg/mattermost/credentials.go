// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"fmt"

	"github.com/aiku/mmbot/pkg/transport"
)

// Credentials is the Mattermost view of the stored session document. Unknown
// keys in the document are preserved by the store and ignored here.
type Credentials struct {
	ServerURL string `json:"server_url,omitempty"`
	Token     string `json:"token,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	PairedAt  int64  `json:"paired_at,omitempty"`
}

func decodeCredentials(raw json.RawMessage) (Credentials, error) {
	var creds Credentials
	if len(raw) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("%w: %w", transport.ErrCorruptCredentials, err)
	}
	return creds, nil
}

// diff returns the keys of next that differ from c, ready to be merged into
// the store. It returns nil when nothing changed.
func (c Credentials) diff(next Credentials) json.RawMessage {
	update := make(map[string]any)
	set := func(key, old, cur string) {
		if cur != "" && cur != old {
			update[key] = cur
		}
	}
	set("server_url", c.ServerURL, next.ServerURL)
	set("token", c.Token, next.Token)
	set("user_id", c.UserID, next.UserID)
	set("username", c.Username, next.Username)
	set("team_id", c.TeamID, next.TeamID)
	set("device_id", c.DeviceID, next.DeviceID)
	if next.PairedAt != 0 && next.PairedAt != c.PairedAt {
		update["paired_at"] = next.PairedAt
	}
	if len(update) == 0 {
		return nil
	}
	data, _ := json.Marshal(update)
	return data
}
