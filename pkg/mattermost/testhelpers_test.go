// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/transport"
)

const (
	botID   = "bbbbbbbbbbbbbbbbbbbbbbbbbb"
	aliceID = "aaaaaaaaaaaaaaaaaaaaaaaaaa"
	teamID  = "tttttttttttttttttttttttttt"
	dmID    = "dddddddddddddddddddddddddd"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	Version string
	// Users maps user ID to model.User.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Passwords maps login IDs to passwords; a successful login issues LoginToken.
	Passwords  map[string]string
	LoginToken string
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
	// FailOnce makes the next request to a path return 500, then succeed.
	FailOnce map[string]int
	Posts    []*model.Post
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Version:       "10.5.0.12345.abc.true",
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Passwords:     make(map[string]string),
		Teams:         make(map[string][]*model.Team),
		FailEndpoints: make(map[string]bool),
		FailOnce:      make(map[string]int),
	}
	f.Users[botID] = &model.User{Id: botID, Username: "mmbot"}
	f.Users[aliceID] = &model.User{Id: aliceID, Username: "alice"}
	f.TokenToUser["bot-token"] = botID
	f.Teams[botID] = []*model.Team{{Id: teamID, Name: "main"}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) Revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.TokenToUser, token)
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CountPath(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeMM) CreatedPosts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Post(nil), f.Posts...)
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg, "status_code": code})
}

func (f *fakeMM) shouldFail(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix := range f.FailEndpoints {
		if strings.Contains(path, prefix) {
			return true
		}
	}
	if f.FailOnce[path] > 0 {
		f.FailOnce[path]--
		return true
	}
	return false
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))
	w.Header().Set(model.HeaderVersionId, f.Version)

	if f.shouldFail(r.URL.Path) {
		writeError(w, http.StatusInternalServerError, "fake error")
		return
	}

	path := r.URL.Path
	if path == "/api/v4/system/ping" {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
		return
	}
	if r.Method == http.MethodPost && path == "/api/v4/users/login" {
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		f.mu.Lock()
		pw, ok := f.Passwords[req["login_id"]]
		token := f.LoginToken
		f.mu.Unlock()
		if !ok || pw != req["password"] {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		w.Header().Set(model.HeaderToken, token)
		_ = json.NewEncoder(w).Encode(f.Users[botID])
		return
	}

	uid := f.resolveToken(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		_ = json.NewEncoder(w).Encode(f.Users[uid])

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/users/username/"):
		name := strings.TrimPrefix(path, "/api/v4/users/username/")
		for _, u := range f.Users {
			if u.Username == name {
				_ = json.NewEncoder(w).Encode(u)
				return
			}
		}
		writeError(w, http.StatusNotFound, "user not found")

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/teams"):
		_ = json.NewEncoder(w).Encode(f.Teams[uid])

	case r.Method == http.MethodPut && strings.HasSuffix(path, "/status"):
		var status model.Status
		_ = json.Unmarshal(body, &status)
		_ = json.NewEncoder(w).Encode(&status)

	case r.Method == http.MethodPost && path == "/api/v4/channels/direct":
		_ = json.NewEncoder(w).Encode(&model.Channel{Id: dmID, Type: model.ChannelTypeDirect})

	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = model.NewId()
		f.mu.Lock()
		f.Posts = append(f.Posts, &post)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		writeError(w, http.StatusNotFound, "not found: "+path)
	}
}

// fakeStream stands in for the WebSocket client.
type fakeStream struct {
	events    chan *model.WebSocketEvent
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan *model.WebSocketEvent, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent { return s.events }

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Drop simulates the server hanging up.
func (s *fakeStream) Drop() {
	close(s.events)
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

func postedEvent(t *testing.T, post *model.Post) *model.WebSocketEvent {
	t.Helper()
	data, err := json.Marshal(post)
	if err != nil {
		t.Fatal(err)
	}
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":         string(data),
		"channel_type": "O",
		"sender_name":  "@alice",
	})
}

// recorder collects everything a socket reports.
type recorder struct {
	updates chan transport.ConnectionUpdate
	creds   chan json.RawMessage
	events  chan transport.InboundEvent
}

func newRecorder() *recorder {
	return &recorder{
		updates: make(chan transport.ConnectionUpdate, 32),
		creds:   make(chan json.RawMessage, 32),
		events:  make(chan transport.InboundEvent, 32),
	}
}

func (r *recorder) subscriber() transport.Subscriber {
	return transport.Subscriber{
		OnConnectionUpdate:  func(u transport.ConnectionUpdate) { r.updates <- u },
		OnCredentialsUpdate: func(c json.RawMessage) { r.creds <- c },
		OnEvents:            func(e transport.InboundEvent) { r.events <- e },
	}
}

const waitTimeout = 5 * time.Second

// waitFor drains updates until one with the given status arrives.
func (r *recorder) waitFor(t *testing.T, status transport.ConnectionStatus) transport.ConnectionUpdate {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case u := <-r.updates:
			if u.Connection == status {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", status)
		}
	}
}

func (r *recorder) nextEvent(t *testing.T) transport.InboundEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
	return transport.InboundEvent{}
}

func (r *recorder) nextCreds(t *testing.T) map[string]any {
	t.Helper()
	select {
	case c := <-r.creds:
		var m map[string]any
		if err := json.Unmarshal(c, &m); err != nil {
			t.Fatalf("credentials update is not a JSON object: %s", c)
		}
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for credentials update")
	}
	return nil
}

// testOptions are DefaultOptions with timings shrunk for tests.
func testOptions(creds string) transport.Options {
	opts := transport.DefaultOptions()
	opts.ConnectTimeout = 2 * time.Second
	opts.QueryTimeout = 2 * time.Second
	opts.RetryRequestDelay = time.Millisecond
	opts.Version = "10.5.0"
	if creds != "" {
		opts.Credentials = json.RawMessage(creds)
	}
	return opts
}

// startSocket dials, subscribes and starts a socket against fake, wiring
// stream as its WebSocket.
func startSocket(t *testing.T, fake *fakeMM, cfg Config, opts transport.Options, stream *fakeStream) (*Socket, *recorder) {
	t.Helper()
	cfg.ServerURL = fake.Server.URL
	d := NewDialer(cfg, zerolog.Nop())
	d.dialStream = func(string, string) (eventStream, error) { return stream, nil }

	sock, err := d.Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	rec := newRecorder()
	if err := sock.Subscribe(rec.subscriber()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sock.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock.(*Socket), rec
}
