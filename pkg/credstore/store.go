// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package credstore persists session credentials in a dedicated directory.
//
// Credentials are an opaque JSON object owned by the transport. The store only
// validates that they are an object, merges incremental updates key by key and
// replaces the whole directory when a bootstrap blob is supplied.
package credstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aiku/mmbot/pkg/transport"
)

// CredsFile is the name of the credential document inside the store directory.
const CredsFile = "creds.json"

var (
	// ErrInvalidCredentials is returned when a credential document is not a
	// JSON object. It wraps transport.ErrCorruptCredentials.
	ErrInvalidCredentials = fmt.Errorf("credentials are not a JSON object: %w", transport.ErrCorruptCredentials)
	errWatcherClosed      = errors.New("credential watcher closed")
)

// Store reads and writes the credential directory.
type Store struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "credstore").Logger(),
	}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load returns the stored credentials, or nil if none exist yet.
func (s *Store) Load() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, CredsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !isObject(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, filepath.Join(s.dir, CredsFile))
	}
	return data, nil
}

// Bootstrap replaces the stored credentials with a base64-encoded JSON
// document. It never fails hard: a blob that doesn't decode leaves the
// directory untouched and returns false.
func (s *Store) Bootstrap(blob string) bool {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return false
	}
	data, err := decodeBase64(blob)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to decode session bootstrap blob")
		return false
	}
	if !isObject(data) {
		s.log.Warn().Int("length", len(data)).Msg("Session bootstrap blob is not a JSON object")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.clear(); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear credential directory for bootstrap")
		return false
	}
	if err := s.write(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to write bootstrapped credentials")
		return false
	}
	s.log.Info().Str("dir", s.dir).Msg("Replaced stored session from bootstrap blob")
	return true
}

// Persist merges the top-level keys of update into the stored document.
func (s *Store) Persist(update json.RawMessage) error {
	if len(bytes.TrimSpace(update)) == 0 {
		return nil
	}
	if !isObject(update) {
		return fmt.Errorf("%w: update", ErrInvalidCredentials)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load()
	if errors.Is(err, ErrInvalidCredentials) {
		s.log.Warn().Err(err).Msg("Overwriting unreadable credentials")
		current = nil
	} else if err != nil {
		return err
	}
	if current == nil {
		current = json.RawMessage("{}")
	}

	merged := []byte(current)
	var setErr error
	gjson.ParseBytes(update).ForEach(func(key, value gjson.Result) bool {
		merged, setErr = sjson.SetRawBytes(merged, escapePath(key.String()), []byte(value.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return fmt.Errorf("failed to merge credential update: %w", setErr)
	}
	if err := s.write(merged); err != nil {
		return err
	}
	s.log.Debug().Int("size", len(merged)).Msg("Persisted credential update")
	return nil
}

// Clear removes every entry of the credential directory.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

func (s *Store) clear() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list credential directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// write replaces creds.json atomically.
func (s *Store) write(data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".creds-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, CredsFile)); err != nil {
		return fmt.Errorf("failed to move credentials into place: %w", err)
	}
	return nil
}

// Wait blocks until a valid credential document exists, for example after an
// operator finishes pairing out of band.
func (s *Store) Wait(ctx context.Context) (json.RawMessage, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return nil, fmt.Errorf("failed to watch credential directory: %w", err)
	}

	// Checked after the watch is installed so a write in between isn't lost.
	if creds, err := s.Load(); err == nil && creds != nil {
		return creds, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil, errWatcherClosed
			}
			if filepath.Base(evt.Name) != CredsFile {
				continue
			}
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
				continue
			}
			creds, err := s.Load()
			if err != nil {
				s.log.Debug().Err(err).Msg("Credential file changed but isn't readable yet")
				continue
			}
			if creds != nil {
				s.log.Info().Msg("Credentials appeared in session directory")
				return creds, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, errWatcherClosed
			}
			s.log.Warn().Err(err).Msg("Credential watcher error")
		}
	}
}

func isObject(data []byte) bool {
	return gjson.ValidBytes(data) && gjson.ParseBytes(data).IsObject()
}

func decodeBase64(blob string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(blob)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("invalid base64: %w", firstErr)
}

// escapePath escapes sjson path metacharacters in a literal object key.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
