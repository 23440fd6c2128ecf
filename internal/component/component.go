// Package component holds the attach/detach state machine shared by every
// feature module. A module only starts once the session has joined the room;
// until then attach keeps retrying on a timer.
package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/store"
	"github.com/SuperViz/superviz-sub000/internal/telemetry"
)

const DefaultRetryDelay = time.Second

var ErrMissingAttachOption = errors.New("missing attach option")

type State int32

const (
	Detached State = iota
	PendingJoin
	Started
)

func (s State) String() string {
	switch s {
	case PendingJoin:
		return "pending_join"
	case Started:
		return "started"
	default:
		return "detached"
	}
}

// Limits resolves the maximum number of connections to a component room
type Limits interface {
	ConnectionLimit(name core.ComponentName) int
}

type AttachOptions struct {
	Transport room.Transport
	Stores    *store.Registry
	Bus       *observer.Observable
	Limits    Limits
}

func (o AttachOptions) validate() error {
	switch {
	case o.Transport == nil:
		return fmt.Errorf("%w: transport", ErrMissingAttachOption)
	case o.Stores == nil:
		return fmt.Errorf("%w: stores", ErrMissingAttachOption)
	case o.Bus == nil:
		return fmt.Errorf("%w: bus", ErrMissingAttachOption)
	case o.Limits == nil:
		return fmt.Errorf("%w: limits", ErrMissingAttachOption)
	}
	return nil
}

// Component is what the launcher attaches and detaches
type Component interface {
	Name() core.ComponentName
	Attach(opts AttachOptions) error
	Detach()
}

// Lifecycle is implemented by the feature module embedding Base. Start runs
// once the session joined the room, Destroy when a started module detaches.
type Lifecycle interface {
	Start(ctx context.Context)
	Destroy()
}

type Option func(*Base)

func WithRetryDelay(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Base) { b.logger = logger }
}

type Base struct {
	observer.Observable

	name       core.ComponentName
	hooks      Lifecycle
	retryDelay time.Duration
	logger     zerolog.Logger

	// serializes the lifecycle hooks
	run sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	opts    AttachOptions
	room    room.Room
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	unsubs  []func()
	retries int
}

func NewBase(name core.ComponentName, hooks Lifecycle, opts ...Option) *Base {
	b := &Base{
		name:       name,
		hooks:      hooks,
		retryDelay: DefaultRetryDelay,
		logger:     log.With().Str("service", "component").Str("component", name.String()).Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Base) Name() core.ComponentName {
	return b.name
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Room returns the component room, nil while detached
func (b *Base) Room() room.Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.room
}

func (b *Base) Stores() *store.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.opts.Stores
}

func (b *Base) Bus() *observer.Observable {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.opts.Bus
}

func (b *Base) Logger() *zerolog.Logger {
	return &b.logger
}

// Retries is the number of times attach was rescheduled in the current cycle
func (b *Base) Retries() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.retries
}

// Track registers an unsubscribe function called on detach
func (b *Base) Track(unsubscribe func()) {
	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsubscribe)
	b.mu.Unlock()
}

// Attach opens the component room and starts the module once the session has
// joined. Calling it again while pending or started does nothing.
func (b *Base) Attach(opts AttachOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.state != Detached {
		b.mu.Unlock()
		return nil
	}
	b.state = PendingJoin
	b.gen++
	b.opts = opts
	b.retries = 0
	gen := b.gen
	b.mu.Unlock()

	return b.tryStart(gen)
}

func (b *Base) tryStart(gen uint64) error {
	b.run.Lock()
	defer b.run.Unlock()

	b.mu.Lock()
	if b.gen != gen || b.state != PendingJoin {
		b.mu.Unlock()
		return nil
	}
	opts := b.opts

	if b.room == nil {
		limit := opts.Limits.ConnectionLimit(b.name)
		r, err := opts.Transport.CreateRoom(context.Background(), b.name.String(), limit)
		if err != nil {
			b.state = Detached
			b.mu.Unlock()
			b.logger.Error().Err(err).Int("limit", limit).Msg("can't open component room")
			return fmt.Errorf("open %s room: %w", b.name, err)
		}
		b.room = r
	}

	if !opts.Stores.Global().HasJoinedRoom.Value() {
		b.retries++
		b.timer = time.AfterFunc(b.retryDelay, func() {
			if err := b.tryStart(gen); err != nil {
				b.logger.Error().Err(err).Msg("attach retry failed")
			}
		})
		b.mu.Unlock()
		b.logger.Debug().Dur("delay", b.retryDelay).Msg("room not joined yet, attach rescheduled")
		return nil
	}

	b.state = Started
	b.ctx, b.cancel = context.WithCancel(context.Background())
	ctx := b.ctx
	b.mu.Unlock()

	b.hooks.Start(ctx)
	telemetry.ComponentAttached(b.name.String())
	b.logger.Debug().Msg("component started")

	return nil
}

// Detach tears the module down. Detaching a module that is not attached is
// only logged.
func (b *Base) Detach() {
	b.run.Lock()
	defer b.run.Unlock()

	b.mu.Lock()
	if b.state == Detached {
		b.mu.Unlock()
		b.logger.Warn().Msg("component is not attached")
		return
	}

	started := b.state == Started
	b.state = Detached
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	r := b.room
	b.room = nil
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	if started {
		b.hooks.Destroy()
		telemetry.ComponentDetached(b.name.String())
	}

	if r != nil {
		if err := r.Disconnect(); err != nil && !errors.Is(err, room.ErrClosed) {
			b.logger.Warn().Err(err).Msg("can't disconnect component room")
		}
	}
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	b.Observable.Reset()

	b.logger.Debug().Bool("started", started).Msg("component detached")
}
