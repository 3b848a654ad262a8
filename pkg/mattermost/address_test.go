// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "@alice", want: Address{Kind: AddressUsername, Value: "alice"}},
		{in: " @Alice ", want: Address{Kind: AddressUsername, Value: "alice"}},
		{in: "user:" + aliceID, want: Address{Kind: AddressUserID, Value: aliceID}},
		{in: dmID, want: Address{Kind: AddressChannel, Value: dmID}},
		{in: "@", wantErr: true},
		{in: "user:short", wantErr: true},
		{in: "town-square", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMakeUserAddressRoundTrip(t *testing.T) {
	t.Parallel()
	addr, err := ParseAddress(MakeUserAddress(aliceID))
	if err != nil || addr.Kind != AddressUserID || addr.Value != aliceID {
		t.Fatalf("round trip = %+v, %v", addr, err)
	}
}

func TestHttpToWS(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"https://mm.example.com": "wss://mm.example.com",
		"http://localhost:8065":  "ws://localhost:8065",
		"ws://already":           "ws://already",
	}
	for in, want := range tests {
		if got := httpToWS(in); got != want {
			t.Errorf("httpToWS(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCredentialsDiff(t *testing.T) {
	t.Parallel()
	prev := Credentials{Token: "t", UserID: "u"}

	if got := prev.diff(prev); got != nil {
		t.Errorf("diff of identical credentials = %s, want nil", got)
	}

	next := prev
	next.Username = "bot"
	next.TeamID = "team"
	next.UserID = ""
	var update map[string]any
	if err := json.Unmarshal(prev.diff(next), &update); err != nil {
		t.Fatal(err)
	}
	if len(update) != 2 || update["username"] != "bot" || update["team_id"] != "team" {
		t.Errorf("diff = %v, want username and team_id only", update)
	}
}
