// Package room describes the presence-capable pub/sub transport the session
// core is built on. Implementations live in room/memory and eventbus.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/SuperViz/superviz-sub000/internal/core"
)

// Unlimited disables the connection limit of a room
const Unlimited = -1

var (
	ErrConnectionLimit = errors.New("room connection limit reached")
	ErrClosed          = errors.New("room is disconnected")
	ErrSameAccount     = errors.New("participant is already connected to the room")
)

type PresenceEventType string

const (
	PresenceJoinedRoom PresenceEventType = "presence.joined-room"
	PresenceUpdate     PresenceEventType = "presence.update"
	PresenceLeave      PresenceEventType = "presence.leave"
)

// PresenceEvent is one entry of the presence feed. Data carries a (possibly
// partial) JSON encoded participant record.
type PresenceEvent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ConnectionID string          `json:"connectionId"`
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"`
}

// Participant decodes Data, falling back to the event id and name
func (e PresenceEvent) Participant() (core.Participant, error) {
	p := core.Participant{}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return p, err
		}
	}
	if p.ID == "" {
		p.ID = e.ID
	}
	if p.Name == "" {
		p.Name = e.Name
	}

	return p, nil
}

// Message is a named application event sent through a room
type Message struct {
	Name          string          `json:"name"`
	ParticipantID string          `json:"participantId"`
	ConnectionID  string          `json:"connectionId"`
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"`
}

type PresenceHandler func(PresenceEvent)

type MessageHandler func(Message)

// Subscription is returned by every On call
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

type Presence interface {
	// Get returns the current snapshot of every presence entry
	Get(ctx context.Context) ([]PresenceEvent, error)
	// Update merges data into the caller's own entry and broadcasts it
	Update(ctx context.Context, data interface{}) error
	On(event PresenceEventType, handler PresenceHandler) Subscription
	// Off removes every handler of event
	Off(event PresenceEventType)
}

type ConnectionState string

const (
	StateConnecting       ConnectionState = "connecting"
	StateConnected        ConnectionState = "connected"
	StateDisconnected     ConnectionState = "disconnected"
	StateFailed           ConnectionState = "failed"
	StateAuthError        ConnectionState = "auth_error"
	StateSameAccountError ConnectionState = "same_account_error"
)

type StateHandler func(ConnectionState)

type Room interface {
	Name() string
	Presence() Presence
	// Join enters the presence set; every member, the caller included,
	// receives PresenceJoinedRoom.
	Join(ctx context.Context, data interface{}) error
	On(event string, handler MessageHandler) Subscription
	Off(event string)
	Emit(ctx context.Context, event string, payload interface{}) error
	OnConnectionStateChange(handler StateHandler) Subscription
	// Disconnect leaves the presence set and releases the room
	Disconnect() error
}

// Transport opens rooms for one participant inside one room id
type Transport interface {
	CreateRoom(ctx context.Context, name string, maxConnections int) (Room, error)
}

// Now is the presence clock, milliseconds since epoch
func Now() int64 {
	return time.Now().UnixMilli()
}

// Encode returns data as raw JSON; raw messages and byte slices pass through
func Encode(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// MergeJSON overlays the keys of patch on base, both JSON objects
func MergeJSON(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(base) == 0 {
		return patch, nil
	}
	if len(patch) == 0 {
		return base, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		fields[k] = v
	}

	return json.Marshal(fields)
}
