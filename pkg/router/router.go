// Copyright 2024-2026 Aiku AI

// Package router fans inbound transport events out to the message handler and
// the generic event handler.
package router

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/metrics"
	"github.com/aiku/mmbot/pkg/transport"
)

// MessageHandler receives typed items, one call per item.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn transport.Socket, msg transport.Message) error
	HandleGroupParticipantsUpdate(ctx context.Context, conn transport.Socket, update transport.ParticipantsUpdate) error
	HandleGroupUpdate(ctx context.Context, conn transport.Socket, update transport.GroupUpdate) error
}

// EventHandler receives every item tagged with its event kind.
type EventHandler interface {
	HandleEvent(ctx context.Context, kind transport.EventKind, conn transport.Socket, payload any) error
}

// Router delivers events to both handlers. A failing or panicking handler
// never stops its sibling or the next item.
type Router struct {
	log      zerolog.Logger
	messages MessageHandler
	events   EventHandler
	metrics  *metrics.Metrics
}

// New creates a Router. Either handler may be nil.
func New(messages MessageHandler, events EventHandler, m *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{
		log:      log.With().Str("component", "router").Logger(),
		messages: messages,
		events:   events,
		metrics:  m,
	}
}

// Route processes evt to completion. Batched items are routed individually in
// delivery order.
func (r *Router) Route(ctx context.Context, conn transport.Socket, evt transport.InboundEvent) {
	r.metrics.EventRouted(string(evt.Kind))

	switch evt.Kind {
	case transport.KindMessageBatch:
		for _, msg := range evt.Messages {
			r.invoke(evt.Kind, "message", msg.ID, func() error {
				if r.messages == nil {
					return nil
				}
				return r.messages.HandleMessage(ctx, conn, msg)
			})
			r.dispatchEvent(ctx, evt.Kind, conn, msg, msg.ID)
		}
	case transport.KindGroupParticipantsChange:
		if evt.Participants == nil {
			r.log.Warn().Msg("Participants event without payload")
			return
		}
		update := *evt.Participants
		r.invoke(evt.Kind, "message", update.ChatID, func() error {
			if r.messages == nil {
				return nil
			}
			return r.messages.HandleGroupParticipantsUpdate(ctx, conn, update)
		})
		r.dispatchEvent(ctx, evt.Kind, conn, update, update.ChatID)
	case transport.KindGroupMetadataChange:
		for _, group := range evt.Groups {
			r.invoke(evt.Kind, "message", group.ChatID, func() error {
				if r.messages == nil {
					return nil
				}
				return r.messages.HandleGroupUpdate(ctx, conn, group)
			})
			r.dispatchEvent(ctx, evt.Kind, conn, group, group.ChatID)
		}
	default:
		r.log.Debug().Str("kind", string(evt.Kind)).Msg("Unrouted event kind")
	}
}

func (r *Router) dispatchEvent(ctx context.Context, kind transport.EventKind, conn transport.Socket, payload any, ref string) {
	if r.events == nil {
		return
	}
	r.invoke(kind, "event", ref, func() error {
		return r.events.HandleEvent(ctx, kind, conn, payload)
	})
}

// invoke runs one handler call inside its own error boundary.
func (r *Router) invoke(kind transport.EventKind, handler, ref string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panicked: %v", p)
				r.log.Debug().Bytes("stack", debug.Stack()).Msg("Recovered handler panic")
			}
		}()
		return fn()
	}()
	if err != nil {
		r.metrics.HandlerFailed(handler, string(kind))
		r.log.Err(err).
			Str("handler", handler).
			Str("kind", string(kind)).
			Str("ref", ref).
			Msg("Handler failed")
	}
}
