package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SuperViz/superviz-sub000/internal/eventbus/rpc"
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

// Room is one connection of a participant to a redis room
type Room struct {
	t            *Transport
	name         string
	keys         Keys
	connectionID string
	bus          RedisBus
	router       *Router
	messages     room.Subscription
	logger       zerolog.Logger

	stopHeartbeat chan struct{}

	mu               sync.Mutex
	nextID           uint64
	presenceHandlers map[room.PresenceEventType][]presenceEntry
	messageHandlers  map[string][]messageEntry
	stateHandlers    []stateEntry
	state            room.ConnectionState
	closed           bool
	joined           bool
	local            room.PresenceEvent
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

func (r *Room) Join(ctx context.Context, data interface{}) error {
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return room.ErrClosed
	}

	participant := r.t.opts.Participant
	records, err := r.t.records(ctx, r.keys)
	if err != nil {
		return r.fail(err)
	}
	if current, ok := records[participant.ID]; ok && current.Event.ConnectionID != r.connectionID {
		r.logger.Warn().Str("participantID", participant.ID).Str("otherConnectionID", current.Event.ConnectionID).Msg("participant already in room")
		r.setState(room.StateSameAccountError)
		return nil
	}

	event := room.PresenceEvent{
		ID:           participant.ID,
		Name:         participant.Name,
		ConnectionID: r.connectionID,
		Data:         raw,
		Timestamp:    r.t.now(),
	}

	r.mu.Lock()
	r.local = event
	r.joined = true
	r.mu.Unlock()

	if err := r.store(ctx, event); err != nil {
		return r.fail(err)
	}
	return r.fail(r.publish(ctx, rpc.NewPresenceRpc(rpc.PresenceJoinedMethod, event)))
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

func (r *Room) Emit(ctx context.Context, event string, payload interface{}) error {
	raw, err := room.Encode(payload)
	if err != nil {
		return err
	}
	if r.isClosed() {
		return room.ErrClosed
	}

	msg := room.Message{
		Name:          event,
		ParticipantID: r.t.opts.Participant.ID,
		ConnectionID:  r.connectionID,
		Data:          raw,
		Timestamp:     r.t.now(),
	}
	if m := r.t.opts.Messaging; m != nil {
		return m.Publish(ctx, r.t.opts.RoomID, r.name, msg)
	}
	return r.fail(r.publish(ctx, rpc.NewMessageRpc(msg)))
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

// Disconnect removes the connection and the presence record, peers receive
// PresenceLeave. The read loop is stopped without waiting so Disconnect can be
// called from a handler.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	joined := r.joined
	local := r.local
	r.mu.Unlock()

	close(r.stopHeartbeat)
	r.router.Stop()

	ctx := context.Background()
	backend := r.t.opts.Backend
	var errs []error

	if err := backend.HDel(ctx, r.keys.Connections(), r.connectionID); err != nil {
		errs = append(errs, err)
	}
	if joined {
		records, err := r.t.records(ctx, r.keys)
		if err != nil {
			errs = append(errs, err)
		} else if current, ok := records[local.ID]; !ok || current.Event.ConnectionID == r.connectionID {
			if err := backend.HDel(ctx, r.keys.Presence(), local.ID); err != nil {
				errs = append(errs, err)
			}
		}

		local.Timestamp = r.t.now()
		if err := r.publish(ctx, rpc.NewPresenceRpc(rpc.PresenceLeaveMethod, local)); err != nil {
			errs = append(errs, err)
		}
	}

	if r.messages != nil {
		r.messages.Unsubscribe()
	}
	if err := r.bus.Close(); err != nil {
		errs = append(errs, err)
	}

	r.setState(room.StateDisconnected)
	r.logger.Debug().Msg("room disconnected")

	return errors.Join(errs...)
}

func (r *Room) heartbeat() {
	interval := r.t.opts.PresenceTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopHeartbeat:
			return
		case <-ticker.C:
			r.beat(context.Background())
		}
	}
}

// beat refreshes the connection entry and, once joined, the presence record
func (r *Room) beat(ctx context.Context) {
	if err := r.t.opts.Backend.HSet(ctx, r.keys.Connections(), r.connectionID, r.t.stamp()); err != nil {
		r.logger.Error().Err(r.fail(err)).Msg("heartbeat failed")
		return
	}

	r.mu.Lock()
	joined := r.joined && !r.closed
	local := r.local
	r.mu.Unlock()

	if joined {
		if err := r.store(ctx, local); err != nil {
			r.logger.Error().Err(r.fail(err)).Msg("heartbeat failed")
		}
	}
}

func (r *Room) store(ctx context.Context, event room.PresenceEvent) error {
	value, err := json.Marshal(record{Event: event, SeenAt: r.t.now()})
	if err != nil {
		return err
	}
	return r.t.opts.Backend.HSet(ctx, r.keys.Presence(), event.ID, value)
}

func (r *Room) publish(ctx context.Context, msg rpc.Rpc) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return r.t.opts.Backend.Publish(ctx, r.keys.Channel(), payload)
}

// fail reports rejected credentials to the state handlers and returns err
func (r *Room) fail(err error) error {
	if IsAuthError(err) {
		r.setState(room.StateAuthError)
	}
	return err
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

func (p *presence) Get(ctx context.Context) ([]room.PresenceEvent, error) {
	r := (*Room)(p)
	records, err := r.t.records(ctx, r.keys)
	if err != nil {
		return nil, r.fail(err)
	}

	entries := make([]room.PresenceEvent, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rec.Event)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries, nil
}

// Update merges data into the stored record and broadcasts the partial data
func (p *presence) Update(ctx context.Context, data interface{}) error {
	r := (*Room)(p)
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return room.ErrClosed
	}
	current := r.local
	if current.ConnectionID == "" {
		current = room.PresenceEvent{
			ID:           r.t.opts.Participant.ID,
			Name:         r.t.opts.Participant.Name,
			ConnectionID: r.connectionID,
		}
	}
	merged, err := room.MergeJSON(current.Data, raw)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	current.Data = merged
	current.Timestamp = r.t.now()
	r.local = current
	r.mu.Unlock()

	if err := r.store(ctx, current); err != nil {
		return r.fail(err)
	}

	event := current
	event.Data = raw
	return r.fail(r.publish(ctx, rpc.NewPresenceRpc(rpc.PresenceUpdateMethod, event)))
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
