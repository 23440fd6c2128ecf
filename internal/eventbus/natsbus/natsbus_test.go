package natsbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperViz/superviz-sub000/internal/room"
)

type MockConn struct {
	mu           sync.Mutex
	handlers     map[string][]func([]byte)
	Unsubscribed []string
	SubscribeErr error
}

func NewMockConn() *MockConn {
	return &MockConn{handlers: make(map[string][]func([]byte))}
}

func (c *MockConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	handlers := make([]func([]byte), len(c.handlers[subject]))
	copy(handlers, c.handlers[subject])
	c.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (c *MockConn) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	c.handlers[subject] = append(c.handlers[subject], handler)
	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, subject)
		c.Unsubscribed = append(c.Unsubscribed, subject)
		return nil
	}, nil
}

func TestSubject(t *testing.T) {
	b := New(NewMockConn(), "")

	assert.Equal(t, "superviz.r-1.launcher", b.Subject("r-1", "launcher"))
	assert.Equal(t, "superviz.org_room_1.who-is-online", b.Subject("org.room 1", "who-is-online"))
	assert.Equal(t, "app.a__.b", New(NewMockConn(), "app").Subject("a*>", "b"))
}

func TestPublishSubscribe(t *testing.T) {
	conn := NewMockConn()
	b := New(conn, "superviz")

	var got []room.Message
	sub, err := b.Subscribe("r-1", "realtime", func(msg room.Message) { got = append(got, msg) })
	require.NoError(t, err)

	msg := room.Message{Name: "move", ParticipantID: "a", Data: []byte(`{"x":1}`), Timestamp: 5}
	require.NoError(t, b.Publish(context.Background(), "r-1", "realtime", msg))
	require.NoError(t, b.Publish(context.Background(), "r-2", "realtime", msg))

	require.Len(t, got, 1)
	assert.Equal(t, msg.Name, got[0].Name)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Data))

	t.Run("malformed payloads are dropped", func(t *testing.T) {
		require.NoError(t, conn.Publish("superviz.r-1.realtime", []byte(`{`)))
		assert.Len(t, got, 1)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		sub.Unsubscribe()
		require.NoError(t, b.Publish(context.Background(), "r-1", "realtime", msg))

		assert.Len(t, got, 1)
		assert.Equal(t, []string{"superviz.r-1.realtime"}, conn.Unsubscribed)
	})
}

func TestSubscribeError(t *testing.T) {
	conn := NewMockConn()
	conn.SubscribeErr = errors.New("nats: connection closed")

	_, err := New(conn, "").Subscribe("r-1", "realtime", func(room.Message) {})
	assert.Error(t, err)
}

func TestCloseWithoutConnection(t *testing.T) {
	assert.NoError(t, New(NewMockConn(), "").Close())
}
