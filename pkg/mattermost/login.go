// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mmbot/pkg/transport"
)

var (
	errNoPairingMethod = errors.New("no session token, login or pairing hook available")
	errLoginRejected   = errors.New("login rejected")
)

// pair obtains a session token. With a configured login it authenticates
// directly; otherwise it waits for an externally supplied session, emitting a
// pairing hint for every PairingTimeout window.
func (s *Socket) pair(ctx context.Context) (Credentials, error) {
	if s.cfg.LoginID != "" && s.cfg.Password != "" {
		return s.passwordLogin(ctx)
	}
	if s.opts.AwaitCredentials == nil {
		return Credentials{}, errNoPairingMethod
	}
	hint := fmt.Sprintf("No Mattermost session stored. Create a personal access token for the bot on %s "+
		"and write {\"token\": \"...\"} to the session directory, or configure a login.", s.cfg.ServerURL)
	for window := 1; ; window++ {
		s.emitUpdate(transport.ConnectionUpdate{
			Connection:  transport.StatusConnecting,
			PairingHint: hint,
		})
		raw, err := s.awaitWindow(ctx)
		switch {
		case err == nil:
			creds, err := decodeCredentials(raw)
			if err != nil {
				return Credentials{}, err
			}
			if creds.Token == "" {
				s.log.Warn().Msg("Supplied session has no token, still waiting")
				continue
			}
			s.log.Info().Int("window", window).Msg("Session supplied externally")
			return creds, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			s.log.Debug().Int("window", window).Msg("Pairing window elapsed")
		default:
			return Credentials{}, fmt.Errorf("failed to wait for session: %w", err)
		}
	}
}

func (s *Socket) awaitWindow(ctx context.Context) (json.RawMessage, error) {
	if s.opts.PairingTimeout <= 0 {
		return s.opts.AwaitCredentials(ctx)
	}
	windowCtx, cancel := context.WithTimeout(ctx, s.opts.PairingTimeout)
	defer cancel()
	return s.opts.AwaitCredentials(windowCtx)
}

func (s *Socket) passwordLogin(ctx context.Context) (Credentials, error) {
	loginCtx, cancel := s.connectContext(ctx)
	defer cancel()
	user, resp, err := s.client.Login(loginCtx, s.cfg.LoginID, s.cfg.Password)
	if err != nil {
		if code := statusCode(resp, err); code == 401 || code == 403 {
			return Credentials{}, fmt.Errorf("%w: %w", errLoginRejected, err)
		}
		return Credentials{}, fmt.Errorf("login failed: %w", err)
	}
	s.log.Info().Str("username", user.Username).Msg("Logged in with password")
	return Credentials{
		ServerURL: s.cfg.ServerURL,
		Token:     s.client.AuthToken,
		UserID:    user.Id,
		Username:  user.Username,
		DeviceID:  model.NewId(),
		PairedAt:  time.Now().UnixMilli(),
	}, nil
}

// fetchFirstTeamID fetches teams for a user and returns the first team's ID,
// or empty string if the user has no teams.
func fetchFirstTeamID(ctx context.Context, client *model.Client4, userID string) (string, error) {
	teams, _, err := client.GetTeamsForUser(ctx, userID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get teams: %w", err)
	}
	if len(teams) > 0 {
		return teams[0].Id, nil
	}
	return "", nil
}
