package slot

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

// MockPresenceState is the presence state shared by several MockRooms. With
// Lagged set, updates stay invisible to Get until Commit.
type MockPresenceState struct {
	mu        sync.Mutex
	Lagged    bool
	committed map[string]room.PresenceEvent
	pending   []room.PresenceEvent
}

func NewMockPresenceState() *MockPresenceState {
	return &MockPresenceState{committed: make(map[string]room.PresenceEvent)}
}

func (s *MockPresenceState) Put(p core.Participant) {
	data, _ := json.Marshal(p)
	s.mu.Lock()
	s.committed[p.ID] = room.PresenceEvent{ID: p.ID, Name: p.Name, Data: data}
	s.mu.Unlock()
}

func (s *MockPresenceState) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.pending {
		s.committed[e.ID] = e
	}
	s.pending = nil
}

func (s *MockPresenceState) write(e room.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Lagged {
		s.pending = append(s.pending, e)
		return
	}
	s.committed[e.ID] = e
}

func (s *MockPresenceState) snapshot() []room.PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]room.PresenceEvent, 0, len(s.committed))
	for _, e := range s.committed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

type MockRoom struct {
	SelfID  string
	State   *MockPresenceState
	Updates []room.PresenceEvent
	GetErr  error
	// BlockGet, when set, is waited on by Get
	BlockGet chan struct{}

	mu       sync.Mutex
	handlers map[room.PresenceEventType][]room.PresenceHandler
}

func NewMockRoom(selfID string, state *MockPresenceState) *MockRoom {
	return &MockRoom{
		SelfID:   selfID,
		State:    state,
		handlers: make(map[room.PresenceEventType][]room.PresenceHandler),
	}
}

// Deliver hands e to the registered presence handlers
func (r *MockRoom) Deliver(t room.PresenceEventType, e room.PresenceEvent) {
	r.mu.Lock()
	handlers := append([]room.PresenceHandler(nil), r.handlers[t]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

func (r *MockRoom) LastUpdate() room.PresenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Updates[len(r.Updates)-1]
}

func (r *MockRoom) UpdateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Updates)
}

func (r *MockRoom) Name() string                            { return "mock" }
func (r *MockRoom) Presence() room.Presence                 { return (*mockPresence)(r) }
func (r *MockRoom) Join(context.Context, interface{}) error { return nil }
func (r *MockRoom) On(string, room.MessageHandler) room.Subscription {
	return room.SubscriptionFunc(func() {})
}
func (r *MockRoom) Off(string)                                      {}
func (r *MockRoom) Emit(context.Context, string, interface{}) error { return nil }
func (r *MockRoom) Disconnect() error                               { return nil }
func (r *MockRoom) OnConnectionStateChange(room.StateHandler) room.Subscription {
	return room.SubscriptionFunc(func() {})
}

type mockPresence MockRoom

func (p *mockPresence) Get(ctx context.Context) ([]room.PresenceEvent, error) {
	if p.BlockGet != nil {
		select {
		case <-p.BlockGet:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.GetErr != nil {
		return nil, p.GetErr
	}
	return p.State.snapshot(), nil
}

func (p *mockPresence) Update(_ context.Context, data interface{}) error {
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}
	e := room.PresenceEvent{ID: p.SelfID, Data: raw}
	p.mu.Lock()
	p.Updates = append(p.Updates, e)
	p.mu.Unlock()
	p.State.write(e)
	return nil
}

func (p *mockPresence) On(t room.PresenceEventType, h room.PresenceHandler) room.Subscription {
	p.mu.Lock()
	p.handlers[t] = append(p.handlers[t], h)
	p.mu.Unlock()
	return room.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.handlers, t)
		p.mu.Unlock()
	})
}

func (p *mockPresence) Off(t room.PresenceEventType) {
	p.mu.Lock()
	delete(p.handlers, t)
	p.mu.Unlock()
}
