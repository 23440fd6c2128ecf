package component

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/room/memory"
	"github.com/SuperViz/superviz-sub000/internal/store"
)

type MockLifecycle struct {
	mu       sync.Mutex
	starts   int
	destroys int
	ctx      context.Context
}

func (m *MockLifecycle) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.ctx = ctx
}

func (m *MockLifecycle) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
}

func (m *MockLifecycle) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockLifecycle) Destroys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroys
}

type MockLimits map[core.ComponentName]int

func (m MockLimits) ConnectionLimit(name core.ComponentName) int {
	if limit, ok := m[name]; ok {
		return limit
	}
	return room.Unlimited
}

type fixture struct {
	hub    *memory.Hub
	stores *store.Registry
	opts   AttachOptions
}

func newFixture(limits MockLimits) *fixture {
	hub := memory.NewHub()
	stores := store.NewRegistry()
	return &fixture{
		hub:    hub,
		stores: stores,
		opts: AttachOptions{
			Transport: hub.Transport("room-1", core.Participant{ID: "a"}),
			Stores:    stores,
			Bus:       observer.New(),
			Limits:    limits,
		},
	}
}

func TestAttachValidation(t *testing.T) {
	f := newFixture(MockLimits{})
	hooks := &MockLifecycle{}
	b := NewBase(core.WhoIsOnline, hooks)

	cases := []struct {
		name   string
		modify func(*AttachOptions)
	}{
		{"transport", func(o *AttachOptions) { o.Transport = nil }},
		{"stores", func(o *AttachOptions) { o.Stores = nil }},
		{"bus", func(o *AttachOptions) { o.Bus = nil }},
		{"limits", func(o *AttachOptions) { o.Limits = nil }},
	}
	for _, c := range cases {
		t.Run("fails without "+c.name, func(t *testing.T) {
			opts := f.opts
			c.modify(&opts)

			err := b.Attach(opts)

			assert.ErrorIs(t, err, ErrMissingAttachOption)
			assert.Contains(t, err.Error(), c.name)
			assert.Equal(t, Detached, b.State())
		})
	}
}

func TestAttachAfterJoin(t *testing.T) {
	f := newFixture(MockLimits{})
	f.stores.Global().HasJoinedRoom.Publish(true)
	hooks := &MockLifecycle{}
	b := NewBase(core.WhoIsOnline, hooks)

	require.NoError(t, b.Attach(f.opts))

	assert.Equal(t, Started, b.State())
	assert.Equal(t, 1, hooks.Starts())
	assert.Equal(t, 1, f.hub.Members("room-1", "whoIsOnline"))
	assert.NotNil(t, b.Room())
	assert.Same(t, f.stores, b.Stores())
	assert.Same(t, f.opts.Bus, b.Bus())

	t.Run("attaching again does not start twice", func(t *testing.T) {
		require.NoError(t, b.Attach(f.opts))

		assert.Equal(t, 1, hooks.Starts())
		assert.Equal(t, 1, f.hub.Members("room-1", "whoIsOnline"))
	})

	t.Run("detach destroys and releases everything", func(t *testing.T) {
		tracked := 0
		b.Track(func() { tracked++ })
		b.Subscribe("event", func(interface{}) {})
		ctx := hooks.ctx

		b.Detach()

		assert.Equal(t, Detached, b.State())
		assert.Equal(t, 1, hooks.Destroys())
		assert.Equal(t, 1, tracked)
		assert.Equal(t, 0, b.Len("event"))
		assert.Nil(t, b.Room())
		assert.Equal(t, 0, f.hub.Members("room-1", "whoIsOnline"))
		assert.Error(t, ctx.Err())
	})

	t.Run("detach twice is a no-op", func(t *testing.T) {
		b.Detach()

		assert.Equal(t, 1, hooks.Destroys())
	})

	t.Run("can be attached again after detach", func(t *testing.T) {
		require.NoError(t, b.Attach(f.opts))

		assert.Equal(t, Started, b.State())
		assert.Equal(t, 2, hooks.Starts())
		b.Detach()
		assert.Equal(t, 2, hooks.Destroys())
	})
}

func TestAttachBeforeJoin(t *testing.T) {
	t.Run("retries until the room is joined", func(t *testing.T) {
		f := newFixture(MockLimits{})
		hooks := &MockLifecycle{}
		b := NewBase(core.WhoIsOnline, hooks, WithRetryDelay(5*time.Millisecond))

		require.NoError(t, b.Attach(f.opts))
		require.NoError(t, b.Attach(f.opts))

		assert.Equal(t, PendingJoin, b.State())
		assert.Equal(t, 0, hooks.Starts())

		assert.Eventually(t, func() bool { return b.Retries() >= 3 }, time.Second, time.Millisecond)
		assert.Equal(t, 1, f.hub.Members("room-1", "whoIsOnline"))

		f.stores.Global().HasJoinedRoom.Publish(true)

		assert.Eventually(t, func() bool { return b.State() == Started }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, hooks.Starts())
		assert.Equal(t, 1, f.hub.Members("room-1", "whoIsOnline"))

		b.Detach()
	})

	t.Run("detach while pending stops the retries", func(t *testing.T) {
		f := newFixture(MockLimits{})
		hooks := &MockLifecycle{}
		b := NewBase(core.WhoIsOnline, hooks, WithRetryDelay(5*time.Millisecond))

		require.NoError(t, b.Attach(f.opts))
		b.Detach()
		f.stores.Global().HasJoinedRoom.Publish(true)
		retries := b.Retries()

		time.Sleep(30 * time.Millisecond)

		assert.Equal(t, Detached, b.State())
		assert.Equal(t, 0, hooks.Starts())
		assert.Equal(t, 0, hooks.Destroys())
		assert.Equal(t, retries, b.Retries())
		assert.Equal(t, 0, f.hub.Members("room-1", "whoIsOnline"))
	})
}

func TestAttachConnectionLimit(t *testing.T) {
	f := newFixture(MockLimits{core.WhoIsOnline: 1})
	f.stores.Global().HasJoinedRoom.Publish(true)

	_, err := f.hub.Transport("room-1", core.Participant{ID: "b"}).CreateRoom(context.Background(), "whoIsOnline", room.Unlimited)
	require.NoError(t, err)

	hooks := &MockLifecycle{}
	b := NewBase(core.WhoIsOnline, hooks)

	err = b.Attach(f.opts)

	assert.ErrorIs(t, err, room.ErrConnectionLimit)
	assert.Equal(t, Detached, b.State())
	assert.Equal(t, 0, hooks.Starts())
}
