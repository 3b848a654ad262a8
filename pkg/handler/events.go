// Copyright 2024-2026 Aiku AI

package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/transport"
)

// Listener reacts to one routed item of a given kind.
type Listener func(ctx context.Context, conn transport.Socket, payload any) error

// Events is the generic event handler: a registry of listeners per kind.
type Events struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[transport.EventKind][]Listener

	joins atomic.Int64
}

func NewEvents(log zerolog.Logger) *Events {
	return &Events{
		log:       log.With().Str("component", "events").Logger(),
		listeners: make(map[transport.EventKind][]Listener),
	}
}

// LoadEvents registers the built-in listeners.
func (e *Events) LoadEvents(_ context.Context) error {
	for _, kind := range []transport.EventKind{
		transport.KindMessageBatch,
		transport.KindGroupParticipantsChange,
		transport.KindGroupMetadataChange,
	} {
		e.On(kind, e.logEvent(kind))
	}
	e.On(transport.KindGroupParticipantsChange, e.countJoins)
	e.log.Info().Int("listeners", e.count()).Msg("Events loaded")
	return nil
}

// On adds a listener for kind.
func (e *Events) On(kind transport.EventKind, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[kind] = append(e.listeners[kind], l)
}

// HandleEvent runs every listener of kind in registration order and joins
// their errors.
func (e *Events) HandleEvent(ctx context.Context, kind transport.EventKind, conn transport.Socket, payload any) error {
	e.mu.RLock()
	listeners := e.listeners[kind]
	e.mu.RUnlock()

	var errs []error
	for i, l := range listeners {
		if err := l(ctx, conn, payload); err != nil {
			errs = append(errs, fmt.Errorf("listener %d for %s: %w", i, kind, err))
		}
	}
	return errors.Join(errs...)
}

// Joins returns how many users were added to channels since start.
func (e *Events) Joins() int64 {
	return e.joins.Load()
}

func (e *Events) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, ls := range e.listeners {
		n += len(ls)
	}
	return n
}

func (e *Events) logEvent(kind transport.EventKind) Listener {
	return func(_ context.Context, _ transport.Socket, payload any) error {
		evt := e.log.Trace().Str("kind", string(kind))
		switch p := payload.(type) {
		case transport.Message:
			evt = evt.Str("post_id", p.ID).Str("channel_id", p.ChatID)
		case transport.ParticipantsUpdate:
			evt = evt.Str("channel_id", p.ChatID)
		case transport.GroupUpdate:
			evt = evt.Str("channel_id", p.ChatID)
		}
		evt.Msg("Event received")
		return nil
	}
}

func (e *Events) countJoins(_ context.Context, _ transport.Socket, payload any) error {
	update, ok := payload.(transport.ParticipantsUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	if update.Action == transport.ParticipantsAdded {
		e.joins.Add(int64(len(update.Participants)))
	}
	return nil
}
