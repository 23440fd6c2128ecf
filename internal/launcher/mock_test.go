package launcher

import (
	"context"
	"errors"
	"sync"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

type MockTransport struct {
	Room *MockRoom
}

func NewMockTransport() *MockTransport {
	return &MockTransport{Room: NewMockRoom()}
}

func (t *MockTransport) CreateRoom(_ context.Context, name string, _ int) (room.Room, error) {
	if name != RoomName {
		return nil, errors.New("unexpected room " + name)
	}
	return t.Room, nil
}

// MockRoom records what the launcher sends. Nothing is delivered back until
// the test calls Deliver or SetState.
type MockRoom struct {
	Snapshot []room.PresenceEvent

	mu           sync.Mutex
	joined       []room.PresenceEvent
	updates      []room.PresenceEvent
	disconnected bool
	nextID       int
	handlers     map[room.PresenceEventType]map[int]room.PresenceHandler
	states       map[int]room.StateHandler
}

func NewMockRoom() *MockRoom {
	return &MockRoom{
		handlers: make(map[room.PresenceEventType]map[int]room.PresenceHandler),
		states:   make(map[int]room.StateHandler),
	}
}

func (r *MockRoom) Deliver(t room.PresenceEventType, e room.PresenceEvent) {
	r.mu.Lock()
	handlers := make([]room.PresenceHandler, 0, len(r.handlers[t]))
	for i := 0; i <= r.nextID; i++ {
		if h, ok := r.handlers[t][i]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

func (r *MockRoom) SetState(state room.ConnectionState) {
	r.mu.Lock()
	handlers := make([]room.StateHandler, 0, len(r.states))
	for i := 0; i <= r.nextID; i++ {
		if h, ok := r.states[i]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

func (r *MockRoom) Handlers(t room.PresenceEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[t])
}

func (r *MockRoom) Joined() []room.PresenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]room.PresenceEvent(nil), r.joined...)
}

func (r *MockRoom) Updates() []room.PresenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]room.PresenceEvent(nil), r.updates...)
}

func (r *MockRoom) LastUpdate() core.Participant {
	updates := r.Updates()
	p, _ := updates[len(updates)-1].Participant()
	return p
}

func (r *MockRoom) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func (r *MockRoom) Name() string            { return RoomName }
func (r *MockRoom) Presence() room.Presence { return (*mockPresence)(r) }

func (r *MockRoom) Join(_ context.Context, data interface{}) error {
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.joined = append(r.joined, room.PresenceEvent{Data: raw})
	r.mu.Unlock()
	return nil
}

func (r *MockRoom) On(string, room.MessageHandler) room.Subscription {
	return room.SubscriptionFunc(func() {})
}
func (r *MockRoom) Off(string)                                      {}
func (r *MockRoom) Emit(context.Context, string, interface{}) error { return nil }

func (r *MockRoom) OnConnectionStateChange(h room.StateHandler) room.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.states[id] = h
	return room.SubscriptionFunc(func() {
		r.mu.Lock()
		delete(r.states, id)
		r.mu.Unlock()
	})
}

func (r *MockRoom) Disconnect() error {
	r.mu.Lock()
	r.disconnected = true
	r.mu.Unlock()
	return nil
}

type mockPresence MockRoom

func (p *mockPresence) Get(context.Context) ([]room.PresenceEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]room.PresenceEvent(nil), p.Snapshot...), nil
}

func (p *mockPresence) Update(_ context.Context, data interface{}) error {
	raw, err := room.Encode(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.updates = append(p.updates, room.PresenceEvent{Data: raw})
	p.mu.Unlock()
	return nil
}

func (p *mockPresence) On(t room.PresenceEventType, h room.PresenceHandler) room.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[t] == nil {
		p.handlers[t] = make(map[int]room.PresenceHandler)
	}
	p.nextID++
	id := p.nextID
	p.handlers[t][id] = h
	return room.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.handlers[t], id)
		p.mu.Unlock()
	})
}

func (p *mockPresence) Off(t room.PresenceEventType) {
	p.mu.Lock()
	delete(p.handlers, t)
	p.mu.Unlock()
}

// MockComponent records attach and detach calls into a shared log
type MockComponent struct {
	name      core.ComponentName
	log       *[]string
	mu        sync.Mutex
	attaches  int
	detaches  int
	AttachErr error
}

func NewMockComponent(name core.ComponentName, log *[]string) *MockComponent {
	return &MockComponent{name: name, log: log}
}

func (c *MockComponent) Name() core.ComponentName { return c.name }

func (c *MockComponent) Attach(component.AttachOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AttachErr != nil {
		return c.AttachErr
	}
	c.attaches++
	if c.log != nil {
		*c.log = append(*c.log, "attach:"+c.name.String())
	}
	return nil
}

func (c *MockComponent) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detaches++
	if c.log != nil {
		*c.log = append(*c.log, "detach:"+c.name.String())
	}
}

func (c *MockComponent) Attaches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attaches
}

func (c *MockComponent) Detaches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detaches
}

type MockFeatures map[core.ComponentName]bool

func (m MockFeatures) Enabled(name core.ComponentName) bool {
	enabled, ok := m[name]
	return !ok || enabled
}

type MockLimits map[core.ComponentName]bool

func (m MockLimits) CanUse(name core.ComponentName) bool {
	allowed, ok := m[name]
	return !ok || allowed
}

func (m MockLimits) ConnectionLimit(core.ComponentName) int { return room.Unlimited }

type MockUsage struct {
	mu      sync.Mutex
	reports []string
	Err     error
}

func (u *MockUsage) ReportUsage(_ context.Context, roomID string, component string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reports = append(u.reports, roomID+":"+component)
	return u.Err
}

func (u *MockUsage) Reports() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.reports...)
}

// eventLog collects the launcher events in order
type eventLog struct {
	mu     sync.Mutex
	events []string
	lists  [][]core.Participant
}

func (e *eventLog) watch(l *Launcher) {
	for _, name := range []string{
		EventJoined, EventLeft, EventLocalJoined, EventLocalLeft,
		EventLocalUpdated, EventListUpdated, EventSameAccountError,
	} {
		name := name
		l.Subscribe(name, func(payload interface{}) {
			e.mu.Lock()
			defer e.mu.Unlock()
			switch v := payload.(type) {
			case core.Participant:
				e.events = append(e.events, name+":"+v.ID)
			case []core.Participant:
				e.events = append(e.events, name)
				e.lists = append(e.lists, v)
			}
		})
	}
}

func (e *eventLog) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *eventLog) count(event string) int {
	n := 0
	for _, ev := range e.all() {
		if ev == event {
			n++
		}
	}
	return n
}

func (e *eventLog) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
	e.lists = nil
}
