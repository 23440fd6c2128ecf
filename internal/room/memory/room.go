package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

type presenceEntry struct {
	id      uint64
	handler room.PresenceHandler
}

type messageEntry struct {
	id      uint64
	handler room.MessageHandler
}

type stateEntry struct {
	id      uint64
	handler room.StateHandler
}

// Room is one connection of a participant to a hub room
type Room struct {
	hub          *Hub
	hr           *hubRoom
	name         string
	connectionID string
	participant  core.Participant
	seq          uint64

	mu               sync.Mutex
	nextID           uint64
	presenceHandlers map[room.PresenceEventType][]presenceEntry
	messageHandlers  map[string][]messageEntry
	stateHandlers    []stateEntry
	state            room.ConnectionState
	closed           bool
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) ConnectionID() string {
	return r.connectionID
}

func (r *Room) State() room.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Room) Presence() room.Presence {
	return (*presence)(r)
}

func (r *Room) Join(_ context.Context, data interface{}) error {
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}

	h := r.hub
	h.mu.Lock()
	if r.isClosed() {
		h.mu.Unlock()
		return room.ErrClosed
	}

	if current, ok := r.hr.presence[r.participant.ID]; ok && current.ConnectionID != r.connectionID {
		if _, live := r.hr.members[current.ConnectionID]; live {
			h.queue = append(h.queue, func() { r.setState(room.StateSameAccountError) })
			h.mu.Unlock()
			h.drain()
			return nil
		}
	}

	event := room.PresenceEvent{
		ID:           r.participant.ID,
		Name:         r.participant.Name,
		ConnectionID: r.connectionID,
		Data:         raw,
		Timestamp:    h.now(),
	}
	r.hr.presence[r.participant.ID] = event
	h.broadcastLocked(r.hr, func(m *Room) { m.dispatchPresence(room.PresenceJoinedRoom, event) })
	h.mu.Unlock()

	h.drain()
	return nil
}

func (r *Room) On(event string, handler room.MessageHandler) room.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.messageHandlers[event] = append(r.messageHandlers[event], messageEntry{id: id, handler: handler})

	return room.SubscriptionFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.messageHandlers[event]
		for i, e := range entries {
			if e.id == id {
				r.messageHandlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	})
}

func (r *Room) Off(event string) {
	r.mu.Lock()
	delete(r.messageHandlers, event)
	r.mu.Unlock()
}

func (r *Room) Emit(_ context.Context, event string, payload interface{}) error {
	raw, err := room.Encode(payload)
	if err != nil {
		return err
	}

	h := r.hub
	h.mu.Lock()
	if r.isClosed() {
		h.mu.Unlock()
		return room.ErrClosed
	}
	msg := room.Message{
		Name:          event,
		ParticipantID: r.participant.ID,
		ConnectionID:  r.connectionID,
		Data:          raw,
		Timestamp:     h.now(),
	}
	h.broadcastLocked(r.hr, func(m *Room) { m.dispatchMessage(msg) })
	h.mu.Unlock()

	h.drain()
	return nil
}

func (r *Room) OnConnectionStateChange(handler room.StateHandler) room.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.stateHandlers = append(r.stateHandlers, stateEntry{id: id, handler: handler})

	return room.SubscriptionFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.stateHandlers {
			if e.id == id {
				r.stateHandlers = append(r.stateHandlers[:i:i], r.stateHandlers[i+1:]...)
				return
			}
		}
	})
}

// SimulateState pushes a connection state to this room's handlers
func (r *Room) SimulateState(state room.ConnectionState) {
	h := r.hub
	h.mu.Lock()
	h.queue = append(h.queue, func() { r.setState(state) })
	h.mu.Unlock()

	h.drain()
}

func (r *Room) Disconnect() error {
	h := r.hub
	h.mu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	delete(r.hr.members, r.connectionID)
	if current, ok := r.hr.presence[r.participant.ID]; ok && current.ConnectionID == r.connectionID {
		delete(r.hr.presence, r.participant.ID)
		current.Timestamp = h.now()
		h.broadcastLocked(r.hr, func(m *Room) { m.dispatchPresence(room.PresenceLeave, current) })
	}
	h.queue = append(h.queue, func() { r.setState(room.StateDisconnected) })
	h.mu.Unlock()

	h.drain()
	return nil
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

func (r *Room) setState(state room.ConnectionState) {
	r.mu.Lock()
	r.state = state
	handlers := make([]stateEntry, len(r.stateHandlers))
	copy(handlers, r.stateHandlers)
	r.mu.Unlock()

	for _, e := range handlers {
		e.handler(state)
	}
}

func (r *Room) dispatchPresence(event room.PresenceEventType, e room.PresenceEvent) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	handlers := make([]presenceEntry, len(r.presenceHandlers[event]))
	copy(handlers, r.presenceHandlers[event])
	r.mu.Unlock()

	for _, h := range handlers {
		h.handler(e)
	}
}

func (r *Room) dispatchMessage(msg room.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	handlers := make([]messageEntry, len(r.messageHandlers[msg.Name]))
	copy(handlers, r.messageHandlers[msg.Name])
	r.mu.Unlock()

	for _, h := range handlers {
		h.handler(msg)
	}
}

// presence is the presence view of a Room
type presence Room

func (p *presence) Get(_ context.Context) ([]room.PresenceEvent, error) {
	r := (*Room)(p)
	h := r.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]room.PresenceEvent, 0, len(r.hr.presence))
	for _, e := range r.hr.presence {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries, nil
}

func (p *presence) Update(_ context.Context, data interface{}) error {
	r := (*Room)(p)
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}

	h := r.hub
	h.mu.Lock()
	if r.isClosed() {
		h.mu.Unlock()
		return room.ErrClosed
	}

	current, ok := r.hr.presence[r.participant.ID]
	if !ok || current.ConnectionID != r.connectionID {
		current = room.PresenceEvent{
			ID:           r.participant.ID,
			Name:         r.participant.Name,
			ConnectionID: r.connectionID,
		}
	}
	merged, err := room.MergeJSON(current.Data, raw)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	current.Data = merged
	current.Timestamp = h.now()
	r.hr.presence[r.participant.ID] = current

	// the broadcast carries the partial update, peers fold it themselves
	event := current
	event.Data = raw
	h.broadcastLocked(r.hr, func(m *Room) { m.dispatchPresence(room.PresenceUpdate, event) })
	h.mu.Unlock()

	h.drain()
	return nil
}

func (p *presence) On(event room.PresenceEventType, handler room.PresenceHandler) room.Subscription {
	r := (*Room)(p)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.presenceHandlers[event] = append(r.presenceHandlers[event], presenceEntry{id: id, handler: handler})

	return room.SubscriptionFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.presenceHandlers[event]
		for i, e := range entries {
			if e.id == id {
				r.presenceHandlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	})
}

func (p *presence) Off(event room.PresenceEventType) {
	r := (*Room)(p)
	r.mu.Lock()
	delete(r.presenceHandlers, event)
	r.mu.Unlock()
}
