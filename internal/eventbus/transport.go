package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

const (
	DefaultKeyPrefix   = "superviz"
	DefaultPresenceTTL = 60 * time.Second
)

var ErrMissingBackend = errors.New("eventbus: backend is required")

// Messaging carries room messages over a separate broker. When set on the
// transport it replaces the redis channel for On and Emit.
type Messaging interface {
	Publish(ctx context.Context, roomID, name string, msg room.Message) error
	Subscribe(roomID, name string, handler room.MessageHandler) (room.Subscription, error)
}

type Options struct {
	Backend     Backend
	RoomID      string
	Participant core.Participant
	KeyPrefix   string
	// PresenceTTL is how long a record survives without a heartbeat
	PresenceTTL time.Duration
	Messaging   Messaging
	Now         func() int64
	Logger      *zerolog.Logger
}

// Transport opens redis backed rooms for one participant
type Transport struct {
	opts   Options
	logger zerolog.Logger
}

func NewTransport(opts Options) (*Transport, error) {
	if opts.Backend == nil {
		return nil, ErrMissingBackend
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = DefaultPresenceTTL
	}
	if opts.Now == nil {
		opts.Now = room.Now
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Transport{
		opts:   opts,
		logger: logger.With().Str("service", "eventbus").Str("roomID", opts.RoomID).Logger(),
	}, nil
}

func (t *Transport) CreateRoom(ctx context.Context, name string, maxConnections int) (room.Room, error) {
	keys := Keys{Prefix: t.opts.KeyPrefix, RoomID: t.opts.RoomID, Name: name}
	backend := t.opts.Backend

	live, err := t.liveConnections(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("count connections of %s: %w", name, err)
	}
	if maxConnections != room.Unlimited && live >= maxConnections {
		return nil, room.ErrConnectionLimit
	}

	r := &Room{
		t:                t,
		name:             name,
		keys:             keys,
		connectionID:     uuid.NewString(),
		presenceHandlers: make(map[room.PresenceEventType][]presenceEntry),
		messageHandlers:  make(map[string][]messageEntry),
		state:            room.StateConnecting,
		stopHeartbeat:    make(chan struct{}),
	}
	r.logger = t.logger.With().Str("room", name).Str("connectionID", r.connectionID).Logger()

	if err := backend.HSet(ctx, keys.Connections(), r.connectionID, t.stamp()); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	bus, err := backend.Subscribe(ctx, keys.Channel())
	if err != nil {
		_ = backend.HDel(ctx, keys.Connections(), r.connectionID)
		return nil, fmt.Errorf("subscribe %s: %w", keys.Channel(), err)
	}
	r.bus = bus
	r.router = NewRouter(bus)
	r.router.OnPresence(r.dispatchPresence)
	r.router.OnMessage(r.dispatchMessage)

	if t.opts.Messaging != nil {
		sub, err := t.opts.Messaging.Subscribe(t.opts.RoomID, name, r.dispatchMessage)
		if err != nil {
			_ = bus.Close()
			_ = backend.HDel(ctx, keys.Connections(), r.connectionID)
			return nil, fmt.Errorf("subscribe messages of %s: %w", name, err)
		}
		r.messages = sub
	}

	<-r.router.Start()
	r.state = room.StateConnected
	go r.heartbeat()

	r.logger.Debug().Int("connections", live+1).Msg("room created")

	return r, nil
}

// liveConnections counts the fresh connections of a room, pruning stale ones
func (t *Transport) liveConnections(ctx context.Context, keys Keys) (int, error) {
	conns, err := t.opts.Backend.HGetAll(ctx, keys.Connections())
	if err != nil {
		return 0, err
	}

	live := 0
	for id, raw := range conns {
		seenAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || t.stale(seenAt) {
			if err := t.opts.Backend.HDel(ctx, keys.Connections(), id); err != nil {
				t.logger.Warn().Err(err).Str("connectionID", id).Msg("can't prune stale connection")
			}
			continue
		}
		live++
	}

	return live, nil
}

func (t *Transport) now() int64 {
	return t.opts.Now()
}

func (t *Transport) stamp() []byte {
	return []byte(strconv.FormatInt(t.now(), 10))
}

func (t *Transport) stale(seenAt int64) bool {
	return t.now()-seenAt > t.opts.PresenceTTL.Milliseconds()
}

// record is the value stored per participant in the presence hash
type record struct {
	Event  room.PresenceEvent `json:"event"`
	SeenAt int64              `json:"seenAt"`
}

func (t *Transport) records(ctx context.Context, keys Keys) (map[string]record, error) {
	raw, err := t.opts.Backend.HGetAll(ctx, keys.Presence())
	if err != nil {
		return nil, err
	}

	records := make(map[string]record, len(raw))
	for id, value := range raw {
		rec := record{}
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			t.logger.Warn().Err(err).Str("participantID", id).Msg("skipping malformed presence record")
			continue
		}
		if t.stale(rec.SeenAt) {
			continue
		}
		records[id] = rec
	}

	return records, nil
}
