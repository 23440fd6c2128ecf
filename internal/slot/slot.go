// Package slot hands out the small unique index each participant uses for
// its colour. There is no central allocator: every session picks a free
// index from its own presence snapshot, announces it, and moves away when a
// peer announces the same index.
package slot

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/store"
	"github.com/SuperViz/superviz-sub000/internal/telemetry"
)

// DefaultPoolSize is the number of slots a room hands out
const DefaultPoolSize = 50

var slotComponents = map[core.ComponentName]struct{}{
	core.PresenceCursor:       {},
	core.WhoIsOnline:          {},
	core.FormElements:         {},
	core.Presence3DMatterport: {},
	core.Presence3DThreeJS:    {},
	core.Presence3DAutodesk:   {},
}

// NeedsSlot reports whether the participant runs a component that shows its
// colour to others.
func NeedsSlot(p core.Participant) bool {
	for _, c := range p.ActiveComponents {
		if _, ok := slotComponents[c]; ok {
			return true
		}
	}

	return p.HasComponent(core.VideoConference) && p.Type != core.ParticipantAudience
}

// Option configures a Service
type Option func(*Service)

// WithPoolSize overrides DefaultPoolSize, non positive sizes are ignored
func WithPoolSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithRand sets the candidate generator, intn(n) must return a value in [0, n)
func WithRand(intn func(n int) int) Option {
	return func(s *Service) { s.intn = intn }
}

// WithClock sets the source of the slot timestamp
func WithClock(now func() int64) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger of the service
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service assigns and releases the colour slot of the local participant
type Service struct {
	presence room.Presence
	global   *store.Global
	poolSize int
	intn     func(int) int
	now      func() int64
	logger   zerolog.Logger

	assigning atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	sub       room.Subscription
}

// NewService starts watching presence updates of r. The local participant is
// read from and written to global.
func NewService(r room.Room, global *store.Global, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		presence: r.Presence(),
		global:   global,
		poolSize: DefaultPoolSize,
		intn:     rand.Intn,
		now:      room.Now,
		logger:   log.With().Str("service", "slot").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sub = s.presence.On(room.PresenceUpdate, s.onPresenceUpdate)

	return s
}

// Slot returns the slot currently held by the local participant
func (s *Service) Slot() core.Slot {
	local := s.global.LocalParticipant.Value()
	if local.Slot == nil {
		return core.DefaultSlot(s.now())
	}
	return local.Slot.Clone()
}

// AssignSlot claims a free index. A slot that is still free in the fresh
// snapshot is kept as is. It returns nil when every index is taken or the
// snapshot could not be read; the next presence update retries.
func (s *Service) AssignSlot(ctx context.Context) *core.Slot {
	if !s.assigning.CompareAndSwap(false, true) {
		current := s.Slot()
		return &current
	}
	defer s.assigning.Store(false)

	local := s.global.LocalParticipant.Value()

	entries, err := s.presence.Get(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("participantID", local.ID).Msg("can't read presence snapshot")
		return nil
	}

	taken := make(map[int]struct{})
	for _, e := range entries {
		if e.ID == local.ID {
			continue
		}
		p, err := e.Participant()
		if err != nil {
			s.logger.Warn().Err(err).Str("participantID", e.ID).Msg("skip malformed presence entry")
			continue
		}
		if idx, ok := p.SlotIndex(); ok {
			taken[idx] = struct{}{}
		}
	}

	free := make([]int, 0, s.poolSize)
	for i := 0; i < s.poolSize; i++ {
		if _, ok := taken[i]; !ok {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		telemetry.SlotExhausted()
		s.logger.Error().Str("participantID", local.ID).Int("poolSize", s.poolSize).Msg("no slots available")
		return nil
	}

	if idx, ok := local.SlotIndex(); ok && idx < s.poolSize {
		if _, inUse := taken[idx]; !inUse {
			current := local.Slot.Clone()
			return &current
		}
	}

	candidate := s.intn(s.poolSize)
	if _, inUse := taken[candidate]; inUse || candidate < 0 || candidate >= s.poolSize {
		sort.Ints(free)
		candidate = free[0]
	}

	slot := core.NewSlot(candidate, s.now())
	s.publish(ctx, slot)
	telemetry.SlotAssigned()
	s.logger.Debug().Str("participantID", local.ID).Int("index", candidate).Msg("slot assigned")

	return &slot
}

// SetDefaultSlot releases the index held by the local participant
func (s *Service) SetDefaultSlot(ctx context.Context) core.Slot {
	slot := core.DefaultSlot(s.now())
	s.publish(ctx, slot)
	telemetry.SlotReleased()

	return slot
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

func (s *Service) publish(ctx context.Context, slot core.Slot) {
	local := s.global.LocalParticipant.Update(func(p core.Participant) core.Participant {
		next := p.Clone()
		next.Slot = &slot
		return next
	})

	s.global.Participants.Update(func(roster map[string]core.Participant) map[string]core.Participant {
		self, ok := roster[local.ID]
		if !ok {
			return roster
		}
		next := store.CopyParticipants(roster)
		self = self.Clone()
		self.Slot = &slot
		next[local.ID] = self
		return next
	})

	if err := s.presence.Update(ctx, local); err != nil {
		s.logger.Error().Err(err).Str("participantID", local.ID).Msg("can't publish slot")
	}
}

func (s *Service) onPresenceUpdate(e room.PresenceEvent) {
	local := s.global.LocalParticipant.Value()
	if local.ID == "" {
		return
	}

	if e.ID == local.ID {
		s.revalidate(local, e)
		return
	}

	remote, err := e.Participant()
	if err != nil {
		s.logger.Warn().Err(err).Str("participantID", e.ID).Msg("skip malformed presence update")
		return
	}
	theirs, ok := remote.SlotIndex()
	mine, has := local.SlotIndex()
	if !ok || !has || theirs != mine {
		return
	}

	telemetry.SlotCollision()
	s.logger.Debug().
		Str("participantID", local.ID).
		Str("remoteID", remote.ID).
		Int("index", mine).
		Msg("slot collision, reassigning")
	s.AssignSlot(s.ctx)
}

// revalidate assigns or releases the local slot after a self update
func (s *Service) revalidate(local core.Participant, e room.PresenceEvent) {
	merged, err := local.Merge(e.Data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("skip malformed self presence update")
		return
	}
	// the slot state in flight is the local one
	merged.Slot = local.Slot

	needs := NeedsSlot(merged)
	_, has := local.SlotIndex()

	switch {
	case needs && !has:
		s.AssignSlot(s.ctx)
	case !needs && has:
		s.SetDefaultSlot(s.ctx)
	}
}
