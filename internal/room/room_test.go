package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	raw, err := Encode(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = Encode(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(raw))

	raw, err = Encode(map[string]int{"b": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(raw))

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}

func TestMergeJSON(t *testing.T) {
	t.Run("patch keys replace base keys", func(t *testing.T) {
		merged, err := MergeJSON(json.RawMessage(`{"id":"a","slot":1}`), json.RawMessage(`{"slot":2,"name":"A"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a","slot":2,"name":"A"}`, string(merged))
	})

	t.Run("empty sides pass the other through", func(t *testing.T) {
		merged, err := MergeJSON(nil, json.RawMessage(`{"id":"a"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a"}`, string(merged))

		merged, err = MergeJSON(json.RawMessage(`{"id":"a"}`), nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a"}`, string(merged))
	})

	t.Run("non object input is an error", func(t *testing.T) {
		_, err := MergeJSON(json.RawMessage(`[1]`), json.RawMessage(`{"id":"a"}`))
		assert.Error(t, err)
	})
}

func TestPresenceEventParticipant(t *testing.T) {
	p, err := PresenceEvent{ID: "a", Name: "Ada", Data: json.RawMessage(`{"type":"host"}`)}.Participant()
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "host", string(p.Type))

	_, err = PresenceEvent{ID: "a", Data: json.RawMessage(`{`)}.Participant()
	assert.Error(t, err)
}
