// Package superviz is the entry point for host applications. Init joins a
// room and returns a Facade exposing the component and event surface of the
// session.
package superviz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/launcher"
	"github.com/SuperViz/superviz-sub000/internal/mousepointers"
	"github.com/SuperViz/superviz-sub000/internal/observer"
	"github.com/SuperViz/superviz-sub000/internal/realtime"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/slot"
	"github.com/SuperViz/superviz-sub000/internal/whoisonline"
)

type (
	Participant     = core.Participant
	ParticipantType = core.ParticipantType
	Group           = core.Group
	Slot            = core.Slot
	ComponentName   = core.ComponentName
	Component       = component.Component
	Transport       = room.Transport
	Features        = launcher.Features
	Limits          = launcher.Limits
	Callback        = observer.Callback

	WhoIsOnline   = whoisonline.WhoIsOnline
	MousePointers = mousepointers.MousePointers
	Realtime      = realtime.Realtime
)

const (
	EventJoined           = launcher.EventJoined
	EventLeft             = launcher.EventLeft
	EventLocalJoined      = launcher.EventLocalJoined
	EventLocalLeft        = launcher.EventLocalLeft
	EventLocalUpdated     = launcher.EventLocalUpdated
	EventListUpdated      = launcher.EventListUpdated
	EventSameAccountError = launcher.EventSameAccountError
)

var (
	ErrAlreadyInitialized = errors.New("a session is already running for this room and participant")
	ErrMissingRoomID      = errors.New("missing room id")
)

type Options struct {
	RoomID      string
	Participant Participant
	Group       Group
	Transport   Transport
	Features    Features
	Limits      Limits
	// SlotPoolSize defaults to 50
	SlotPoolSize int
	// SlotRand picks slot candidates, intn(n) must return a value in [0, n)
	SlotRand func(n int) int
	// AttachRetryDelay is used by the components built with the New* helpers
	AttachRetryDelay time.Duration
}

var registry = struct {
	sync.Mutex
	facades map[string]*Facade
}{facades: make(map[string]*Facade)}

type Facade struct {
	key      string
	launcher *launcher.Launcher
	retry    time.Duration
}

// Init starts a session. Only one session per room and participant may run
// at a time, ErrAlreadyInitialized is returned otherwise until Destroy.
func Init(ctx context.Context, opts Options) (*Facade, error) {
	if opts.RoomID == "" {
		return nil, ErrMissingRoomID
	}
	key := opts.RoomID + "/" + opts.Participant.ID

	registry.Lock()
	defer registry.Unlock()

	if existing, ok := registry.facades[key]; ok && !existing.launcher.Destroyed() {
		return nil, ErrAlreadyInitialized
	}

	var slotOpts []slot.Option
	if opts.SlotPoolSize > 0 {
		slotOpts = append(slotOpts, slot.WithPoolSize(opts.SlotPoolSize))
	}
	if opts.SlotRand != nil {
		slotOpts = append(slotOpts, slot.WithRand(opts.SlotRand))
	}

	l, err := launcher.New(ctx, launcher.Options{
		RoomID:      opts.RoomID,
		Participant: opts.Participant,
		Group:       opts.Group,
		Transport:   opts.Transport,
		Features:    opts.Features,
		Limits:      opts.Limits,
		SlotOptions: slotOpts,
	})
	if err != nil {
		return nil, err
	}

	f := &Facade{key: key, launcher: l, retry: opts.AttachRetryDelay}
	registry.facades[key] = f
	log.Debug().Str("service", "superviz").Str("roomID", opts.RoomID).Str("participantID", opts.Participant.ID).Msg("session initialized")

	return f, nil
}

func (f *Facade) AddComponent(c Component) error {
	return f.launcher.AddComponent(c)
}

func (f *Facade) RemoveComponent(c Component) error {
	return f.launcher.RemoveComponent(c)
}

// Subscribe registers cb for a participant event, the returned function
// removes it.
func (f *Facade) Subscribe(event string, cb Callback) func() {
	return f.launcher.Subscribe(event, cb)
}

// Unsubscribe drops every callback registered for event. Use the function
// returned by Subscribe to remove a single one.
func (f *Facade) Unsubscribe(event string) {
	f.launcher.Unsubscribe(event)
}

// Destroy ends the session and frees its registry entry
func (f *Facade) Destroy() {
	f.launcher.Destroy()

	registry.Lock()
	if registry.facades[f.key] == f {
		delete(registry.facades, f.key)
	}
	registry.Unlock()
}

func (f *Facade) LocalParticipant() Participant {
	return f.launcher.LocalParticipant()
}

func (f *Facade) Participants() []Participant {
	return f.launcher.Participants()
}

func (f *Facade) NewWhoIsOnline() *WhoIsOnline {
	return whoisonline.New(f.componentOptions()...)
}

func (f *Facade) NewMousePointers() *MousePointers {
	return mousepointers.New(f.componentOptions()...)
}

func (f *Facade) NewRealtime() *Realtime {
	return realtime.New(f.componentOptions()...)
}

func (f *Facade) componentOptions() []component.Option {
	if f.retry <= 0 {
		return nil
	}
	return []component.Option{component.WithRetryDelay(f.retry)}
}
