// Package mousepointers shares cursor positions over the component room and
// keeps the positions of the other participants in the Pointers store.
package mousepointers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/store"
)

var ErrNotStarted = errors.New("mouse pointers not started")

type MousePointers struct {
	*component.Base
	now func() int64
}

func New(opts ...component.Option) *MousePointers {
	m := &MousePointers{now: room.Now}
	m.Base = component.NewBase(core.PresenceCursor, m, opts...)
	return m
}

func (m *MousePointers) Start(ctx context.Context) {
	r := m.Room()
	presence := r.Presence()

	m.Track(presence.On(room.PresenceJoinedRoom, m.onPosition).Unsubscribe)
	m.Track(presence.On(room.PresenceUpdate, m.onPosition).Unsubscribe)
	m.Track(presence.On(room.PresenceLeave, m.onLeave).Unsubscribe)

	if err := r.Join(ctx, m.pointer(0, 0)); err != nil {
		m.Logger().Error().Err(err).Msg("can't join pointers room")
		return
	}

	entries, err := presence.Get(ctx)
	if err != nil {
		m.Logger().Error().Err(err).Msg("can't read pointers snapshot")
		return
	}
	for _, e := range entries {
		m.onPosition(e)
	}
}

func (m *MousePointers) Destroy() {
	m.Stores().Pointers().Positions.Publish(map[string]store.Pointer{})
}

// UpdatePosition announces the local cursor position
func (m *MousePointers) UpdatePosition(ctx context.Context, x, y float64) error {
	r := m.Room()
	if r == nil || m.State() != component.Started {
		return ErrNotStarted
	}

	return r.Presence().Update(ctx, m.pointer(x, y))
}

func (m *MousePointers) pointer(x, y float64) store.Pointer {
	local := m.Stores().Global().LocalParticipant.Value()
	slot := core.DefaultSlot(m.now())
	if local.Slot != nil {
		slot = local.Slot.Clone()
	}

	return store.Pointer{
		ParticipantID: local.ID,
		Name:          local.Name,
		X:             x,
		Y:             y,
		Slot:          slot,
		Timestamp:     m.now(),
	}
}

func (m *MousePointers) onPosition(e room.PresenceEvent) {
	stores := m.Stores()
	if e.ID == stores.Global().LocalParticipant.Value().ID {
		return
	}

	var p store.Pointer
	if err := json.Unmarshal(e.Data, &p); err != nil {
		m.Logger().Warn().Err(err).Str("participantID", e.ID).Msg("skip malformed pointer")
		return
	}
	p.ParticipantID = e.ID
	if p.Name == "" {
		p.Name = e.Name
	}

	stores.Pointers().Positions.Update(func(positions map[string]store.Pointer) map[string]store.Pointer {
		next := make(map[string]store.Pointer, len(positions)+1)
		for id, v := range positions {
			next[id] = v
		}
		next[e.ID] = p
		return next
	})
}

func (m *MousePointers) onLeave(e room.PresenceEvent) {
	m.Stores().Pointers().Positions.Update(func(positions map[string]store.Pointer) map[string]store.Pointer {
		if _, ok := positions[e.ID]; !ok {
			return positions
		}
		next := make(map[string]store.Pointer, len(positions))
		for id, v := range positions {
			if id != e.ID {
				next[id] = v
			}
		}
		return next
	})
}
