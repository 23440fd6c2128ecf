// Package memory is an in-process implementation of the room transport.
//
// Presence state is applied when an operation is called, delivery of the
// resulting events is queued. In the default mode the outermost caller drains
// the queue, so events published from inside a handler are delivered after
// the handler returns, the way a single-threaded event loop would. A manual
// hub only delivers on Flush.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

type Hub struct {
	mu       sync.Mutex
	manual   bool
	rooms    map[string]*hubRoom
	queue    []func()
	draining bool
	seq      uint64
	now      func() int64
}

type hubRoom struct {
	members  map[string]*Room
	presence map[string]room.PresenceEvent
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*hubRoom),
		now:   room.Now,
	}
}

// NewManualHub returns a hub delivering events only on Flush
func NewManualHub() *Hub {
	h := NewHub()
	h.manual = true
	return h
}

// SetClock replaces the presence timestamp source
func (h *Hub) SetClock(now func() int64) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Transport opens rooms of roomID on behalf of participant
func (h *Hub) Transport(roomID string, participant core.Participant) *Transport {
	return &Transport{hub: h, roomID: roomID, participant: participant}
}

// Flush delivers queued events until the queue is empty
func (h *Hub) Flush() {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return
	}
	h.draining = true
	for len(h.queue) > 0 {
		fn := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		fn()
		h.mu.Lock()
	}
	h.draining = false
	h.mu.Unlock()
}

// Pending is the number of undelivered events
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.queue)
}

// Members returns the number of open connections to a room
func (h *Hub) Members(roomID, name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	hr, ok := h.rooms[roomKey(roomID, name)]
	if !ok {
		return 0
	}
	return len(hr.members)
}

func (h *Hub) drain() {
	if h.manual {
		return
	}
	h.Flush()
}

// must be called with h.mu held
func (h *Hub) broadcastLocked(hr *hubRoom, deliver func(*Room)) {
	ids := make([]string, 0, len(hr.members))
	for id := range hr.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return hr.members[ids[i]].seq < hr.members[ids[j]].seq })

	for _, id := range ids {
		member := hr.members[id]
		h.queue = append(h.queue, func() { deliver(member) })
	}
}

func roomKey(roomID, name string) string {
	return roomID + "/" + name
}

type Transport struct {
	hub         *Hub
	roomID      string
	participant core.Participant
}

func (t *Transport) CreateRoom(_ context.Context, name string, maxConnections int) (room.Room, error) {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	key := roomKey(t.roomID, name)
	hr, ok := h.rooms[key]
	if !ok {
		hr = &hubRoom{
			members:  make(map[string]*Room),
			presence: make(map[string]room.PresenceEvent),
		}
		h.rooms[key] = hr
	}

	if maxConnections != room.Unlimited && len(hr.members) >= maxConnections {
		return nil, room.ErrConnectionLimit
	}

	h.seq++
	r := &Room{
		hub:              h,
		hr:               hr,
		name:             name,
		connectionID:     uuid.NewString(),
		participant:      t.participant,
		seq:              h.seq,
		presenceHandlers: make(map[room.PresenceEventType][]presenceEntry),
		messageHandlers:  make(map[string][]messageEntry),
		state:            room.StateConnected,
	}
	hr.members[r.connectionID] = r

	return r, nil
}
