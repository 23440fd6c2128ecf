// Package realtime lets the host application exchange named events with the
// other participants of the room.
package realtime

import (
	"context"
	"sync"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

type pending struct {
	event string
	data  interface{}
}

type Realtime struct {
	*component.Base

	mu       sync.Mutex
	started  bool
	buffered []pending
	handlers map[string][]room.MessageHandler
}

func New(opts ...component.Option) *Realtime {
	rt := &Realtime{handlers: make(map[string][]room.MessageHandler)}
	rt.Base = component.NewBase(core.Realtime, rt, opts...)
	return rt
}

func (rt *Realtime) Start(ctx context.Context) {
	r := rt.Room()

	rt.mu.Lock()
	rt.started = true
	buffered := rt.buffered
	rt.buffered = nil
	handlers := make(map[string][]room.MessageHandler, len(rt.handlers))
	for event, hs := range rt.handlers {
		handlers[event] = append([]room.MessageHandler(nil), hs...)
	}
	rt.mu.Unlock()

	for event, hs := range handlers {
		for _, h := range hs {
			rt.Track(r.On(event, h).Unsubscribe)
		}
	}

	for _, p := range buffered {
		if err := r.Emit(ctx, p.event, p.data); err != nil {
			rt.Logger().Error().Err(err).Str("event", p.event).Msg("can't flush buffered event")
		}
	}
}

func (rt *Realtime) Destroy() {
	rt.mu.Lock()
	rt.started = false
	rt.buffered = nil
	rt.mu.Unlock()
}

// Publish sends an event to the room. Events published before the component
// started are sent in order once it does.
func (rt *Realtime) Publish(ctx context.Context, event string, data interface{}) error {
	rt.mu.Lock()
	if !rt.started {
		rt.buffered = append(rt.buffered, pending{event: event, data: data})
		rt.mu.Unlock()
		return nil
	}
	rt.mu.Unlock()

	r := rt.Room()
	if r == nil {
		return room.ErrClosed
	}
	return r.Emit(ctx, event, data)
}

// Subscribe registers handler for event. Handlers survive a detach and are
// bound again on the next start.
func (rt *Realtime) Subscribe(event string, handler room.MessageHandler) {
	rt.mu.Lock()
	rt.handlers[event] = append(rt.handlers[event], handler)
	started := rt.started
	rt.mu.Unlock()

	if !started {
		return
	}
	if r := rt.Room(); r != nil {
		rt.Track(r.On(event, handler).Unsubscribe)
	}
}

// Unsubscribe drops every handler of event
func (rt *Realtime) Unsubscribe(event string) {
	rt.mu.Lock()
	delete(rt.handlers, event)
	started := rt.started
	rt.mu.Unlock()

	if !started {
		return
	}
	if r := rt.Room(); r != nil {
		r.Off(event)
	}
}
