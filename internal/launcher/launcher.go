// Package launcher wires a participant into a room. It owns the roster folded
// from the presence feed, the slot service, and decides when feature modules
// may attach.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/slot"
	"github.com/SuperViz/superviz-sub000/internal/store"
	"github.com/SuperViz/superviz-sub000/internal/telemetry"
)

// RoomName is the name of the room every session of a roomID joins
const RoomName = "launcher"

const (
	EventJoined           = "participant.joined"
	EventLeft             = "participant.left"
	EventLocalJoined      = "participant.local-joined"
	EventLocalLeft        = "participant.local-left"
	EventLocalUpdated     = "participant.updated"
	EventListUpdated      = "participant.list-updated"
	EventSameAccountError = "participant.same-account-error"
)

var (
	ErrMissingTransport     = errors.New("missing transport")
	ErrMissingParticipant   = errors.New("missing participant id")
	ErrDestroyed            = errors.New("launcher destroyed")
	ErrComponentActive      = errors.New("component already active")
	ErrComponentNotActive   = errors.New("component not active")
	ErrFeatureDisabled      = errors.New("component disabled by feature flag")
	ErrLimitReached         = errors.New("component usage limit reached")
	errDomainNotWhitelisted = errors.New("domain is not whitelisted")
)

// Features tells whether a component may be used at all
type Features interface {
	Enabled(name core.ComponentName) bool
}

// Limits combines the usage check of addComponent with the connection limit
// resolved by components on attach.
type Limits interface {
	component.Limits
	CanUse(name core.ComponentName) bool
}

type UsageReporter interface {
	ReportUsage(ctx context.Context, roomID string, component string) error
}

type Options struct {
	RoomID      string
	Participant core.Participant
	Group       core.Group
	Transport   room.Transport
	// Stores defaults to a fresh registry
	Stores      *store.Registry
	Features    Features
	Limits      Limits
	Usage       UsageReporter
	SlotOptions []slot.Option
	Logger      *zerolog.Logger
}

type Launcher struct {
	roomID    string
	transport room.Transport
	stores    *store.Registry
	global    *store.Global
	room      room.Room
	slots     *slot.Service
	bus       *observer.Observable
	events    *observer.Observable
	features  Features
	limits    Limits
	usage     UsageReporter
	logger    zerolog.Logger
	subs      []room.Subscription

	mu         sync.Mutex
	joined     bool
	destroyed  bool
	components []component.Component
	queue      []component.Component
}

// New publishes the local participant, opens the room and joins it. With an
// asynchronous transport the join completes later, components added
// meanwhile are attached once it does.
func New(ctx context.Context, opts Options) (*Launcher, error) {
	if opts.Transport == nil {
		return nil, ErrMissingTransport
	}
	if opts.Participant.ID == "" {
		return nil, ErrMissingParticipant
	}

	l := &Launcher{
		roomID:    opts.RoomID,
		transport: opts.Transport,
		stores:    opts.Stores,
		bus:       observer.New(),
		events:    observer.New(),
		features:  opts.Features,
		limits:    opts.Limits,
		usage:     opts.Usage,
		logger:    log.With().Str("service", "launcher").Str("roomID", opts.RoomID).Logger(),
	}
	if l.stores == nil {
		l.stores = store.NewRegistry()
	}
	if l.features == nil {
		l.features = allEnabled{}
	}
	if l.limits == nil {
		l.limits = unlimited{}
	}
	if l.usage == nil {
		l.usage = telemetry.UsageReporter{}
	}
	if opts.Logger != nil {
		l.logger = *opts.Logger
	}
	l.global = l.stores.Global()

	l.global.LocalParticipant.Publish(opts.Participant.Clone())
	l.global.Group.Publish(opts.Group)

	r, err := l.transport.CreateRoom(ctx, RoomName, room.Unlimited)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	l.room = r

	slotOpts := opts.SlotOptions
	if opts.Logger != nil {
		slotOpts = append([]slot.Option{slot.WithLogger(*opts.Logger)}, slotOpts...)
	}
	l.slots = slot.NewService(r, l.global, slotOpts...)

	current := l.slots.Slot()
	local := l.global.LocalParticipant.Update(func(p core.Participant) core.Participant {
		next := p.Clone()
		next.Slot = &current
		next.ActiveComponents = []core.ComponentName{}
		return next
	})

	presence := r.Presence()
	l.subs = append(l.subs,
		presence.On(room.PresenceJoinedRoom, l.onJoinedRoom),
		presence.On(room.PresenceLeave, l.onLeave),
		presence.On(room.PresenceUpdate, l.onUpdate),
		r.OnConnectionStateChange(l.onConnectionState),
	)

	if err := r.Join(ctx, local); err != nil {
		l.Destroy()
		return nil, fmt.Errorf("join room: %w", err)
	}

	l.logger.Debug().Str("participantID", local.ID).Msg("launcher started")

	return l, nil
}

// AddComponent attaches c, or queues it until the room is joined
func (l *Launcher) AddComponent(c component.Component) error {
	name := c.Name()
	logger := l.logger.With().Str("component", name.String()).Logger()

	l.mu.Lock()
	err := l.canAddLocked(name)
	if err != nil {
		l.mu.Unlock()
		logger.Error().Err(err).Msg("can't add component")
		return err
	}
	if !l.joined {
		l.queue = append(l.queue, c)
		l.mu.Unlock()
		logger.Debug().Msg("room not joined yet, component queued")
		return nil
	}
	l.mu.Unlock()

	return l.attach(c)
}

func (l *Launcher) canAddLocked(name core.ComponentName) error {
	switch {
	case !l.features.Enabled(name):
		return ErrFeatureDisabled
	case l.destroyed:
		return ErrDestroyed
	case l.activeLocked(name) || l.queuedLocked(name):
		return ErrComponentActive
	case !l.limits.CanUse(name):
		return ErrLimitReached
	}
	return nil
}

func (l *Launcher) attach(c component.Component) error {
	name := c.Name()

	err := c.Attach(component.AttachOptions{
		Transport: l.transport,
		Stores:    l.stores,
		Bus:       l.bus,
		Limits:    l.limits,
	})
	if err != nil {
		l.logger.Error().Err(err).Str("component", name.String()).Msg("can't attach component")
		return err
	}

	l.mu.Lock()
	l.components = append(l.components, c)
	names := l.namesLocked()
	l.mu.Unlock()

	l.publishActiveComponents(names)

	go func() {
		if err := l.usage.ReportUsage(context.Background(), l.roomID, name.String()); err != nil {
			l.logger.Warn().Err(err).Str("component", name.String()).Msg("can't report usage")
		}
	}()

	return nil
}

// RemoveComponent detaches an active component. A queued component is
// dropped from the queue without being detached.
func (l *Launcher) RemoveComponent(c component.Component) error {
	name := c.Name()

	l.mu.Lock()
	for i, queued := range l.queue {
		if queued.Name() == name {
			l.queue = append(l.queue[:i:i], l.queue[i+1:]...)
			l.mu.Unlock()
			l.logger.Debug().Str("component", name.String()).Msg("queued component dropped")
			return nil
		}
	}

	idx := -1
	for i, active := range l.components {
		if active.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		l.logger.Error().Err(ErrComponentNotActive).Str("component", name.String()).Msg("can't remove component")
		return ErrComponentNotActive
	}
	active := l.components[idx]
	l.components = append(l.components[:idx:idx], l.components[idx+1:]...)
	names := l.namesLocked()
	l.mu.Unlock()

	active.Detach()
	l.publishActiveComponents(names)

	return nil
}

// Destroy detaches every component and leaves the room. Further calls to
// AddComponent fail with ErrDestroyed.
func (l *Launcher) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	components := make([]component.Component, len(l.components))
	copy(components, l.components)
	l.queue = nil
	l.mu.Unlock()

	for _, c := range components {
		if err := l.RemoveComponent(c); err != nil {
			l.logger.Warn().Err(err).Str("component", c.Name().String()).Msg("can't remove component on destroy")
		}
	}

	l.slots.Close()
	for _, sub := range l.subs {
		sub.Unsubscribe()
	}
	l.subs = nil

	l.stores.Destroy()
	l.bus.Reset()

	if err := l.room.Disconnect(); err != nil {
		l.logger.Warn().Err(err).Msg("can't disconnect room")
	}
	telemetry.ParticipantsChanged(0)

	l.logger.Debug().Msg("launcher destroyed")
}

// Subscribe registers cb for one of the participant events
func (l *Launcher) Subscribe(event string, cb observer.Callback) func() {
	return l.events.Subscribe(event, cb)
}

// Unsubscribe drops every callback of event. A single callback is removed
// with the func returned by Subscribe.
func (l *Launcher) Unsubscribe(event string) {
	l.events.Unsubscribe(event)
}

func (l *Launcher) Stores() *store.Registry {
	return l.stores
}

// Bus is the event bus shared by the attached components
func (l *Launcher) Bus() *observer.Observable {
	return l.bus
}

func (l *Launcher) LocalParticipant() core.Participant {
	return l.global.LocalParticipant.Value()
}

// Participants returns the roster ordered by participant id
func (l *Launcher) Participants() []core.Participant {
	return sortedRoster(l.global.Participants.Value())
}

func (l *Launcher) ActiveComponents() []core.ComponentName {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.namesLocked()
}

func (l *Launcher) HasJoinedRoom() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.joined
}

func (l *Launcher) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.destroyed
}

func (l *Launcher) activeLocked(name core.ComponentName) bool {
	for _, c := range l.components {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func (l *Launcher) queuedLocked(name core.ComponentName) bool {
	for _, c := range l.queue {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func (l *Launcher) namesLocked() []core.ComponentName {
	names := make([]core.ComponentName, 0, len(l.components))
	for _, c := range l.components {
		names = append(names, c.Name())
	}
	return names
}

func (l *Launcher) publishActiveComponents(names []core.ComponentName) {
	local := l.global.LocalParticipant.Update(func(p core.Participant) core.Participant {
		next := p.Clone()
		next.ActiveComponents = names
		return next
	})
	l.publishPresence(local)
}

func (l *Launcher) publishPresence(local core.Participant) {
	if err := l.room.Presence().Update(context.Background(), local); err != nil && !errors.Is(err, room.ErrClosed) {
		l.logger.Error().Err(err).Str("participantID", local.ID).Msg("can't publish presence")
	}
}

func (l *Launcher) isDestroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.destroyed
}

type allEnabled struct{}

func (allEnabled) Enabled(core.ComponentName) bool { return true }

type unlimited struct{}

func (unlimited) CanUse(core.ComponentName) bool { return true }

func (unlimited) ConnectionLimit(core.ComponentName) int { return room.Unlimited }

func sortedRoster(roster map[string]core.Participant) []core.Participant {
	list := make([]core.Participant, 0, len(roster))
	for _, p := range roster {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// rosterChanged compares two roster values. Presence delivers duplicates, an
// identical fold must not produce a new list.
func rosterChanged(prev, next map[string]core.Participant) bool {
	return !reflect.DeepEqual(prev, next)
}
