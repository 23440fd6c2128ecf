package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/room/memory"
	"github.com/SuperViz/superviz-sub000/internal/store"
)

type unlimited struct{}

func (unlimited) ConnectionLimit(core.ComponentName) int { return room.Unlimited }

func attachOptions(hub *memory.Hub, id string) component.AttachOptions {
	stores := store.NewRegistry()
	stores.Global().LocalParticipant.Publish(core.Participant{ID: id})
	stores.Global().HasJoinedRoom.Publish(true)

	return component.AttachOptions{
		Transport: hub.Transport("room-1", core.Participant{ID: id}),
		Stores:    stores,
		Bus:       observer.New(),
		Limits:    unlimited{},
	}
}

func TestRealtime(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, b := New(), New()
	var received []string
	a.Subscribe("move", func(msg room.Message) {
		var body string
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		received = append(received, msg.ParticipantID+":"+body)
	})

	require.NoError(t, b.Publish(ctx, "move", "first"))
	require.NoError(t, b.Publish(ctx, "move", "second"))

	require.NoError(t, a.Attach(attachOptions(hub, "a")))
	require.NoError(t, b.Attach(attachOptions(hub, "b")))

	t.Run("events published before start are flushed in order", func(t *testing.T) {
		assert.Equal(t, []string{"b:first", "b:second"}, received)
	})

	t.Run("events published after start are delivered", func(t *testing.T) {
		require.NoError(t, b.Publish(ctx, "move", "third"))

		assert.Equal(t, []string{"b:first", "b:second", "b:third"}, received)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		a.Unsubscribe("move")
		require.NoError(t, b.Publish(ctx, "move", "fourth"))

		assert.Len(t, received, 3)
	})

	t.Run("publishing after detach is buffered for the next start", func(t *testing.T) {
		b.Detach()

		require.NoError(t, b.Publish(ctx, "move", "later"))
		assert.Len(t, received, 3)
	})

	a.Detach()
}
