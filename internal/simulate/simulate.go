// Package simulate runs several presence sessions against an in-process hub
// and reports how the slots were spread.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room/memory"
	"github.com/SuperViz/superviz-sub000/pkg/superviz"
)

var ErrNoParticipants = errors.New("at least one participant is required")

type Options struct {
	Participants int
	PoolSize     int
	Seed         int64
	// Manual delays every presence delivery until all sessions joined
	Manual bool
}

type Result struct {
	RoomID string
	// Roster is the participant list as seen by the first session
	Roster []core.Participant
	// Duplicates lists the slot indexes held by more than one participant
	Duplicates []int
	// Unassigned lists the participants left without a slot
	Unassigned []string
}

// Run joins the sessions, attaches who-is-online to each of them and tears
// everything down once the roster is collected
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Participants <= 0 {
		return Result{}, ErrNoParticipants
	}

	hub := memory.NewHub()
	if opts.Manual {
		hub = memory.NewManualHub()
	}
	roomID := "simulation-" + uuid.NewString()
	logger := log.With().Str("service", "simulate").Str("roomID", roomID).Logger()

	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(opts.Seed))
	intn := func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return rnd.Intn(n)
	}

	facades := make([]*superviz.Facade, 0, opts.Participants)
	defer func() {
		for _, f := range facades {
			f.Destroy()
		}
		hub.Flush()
	}()

	for i := 0; i < opts.Participants; i++ {
		p := core.Participant{
			ID:   fmt.Sprintf("p-%02d", i),
			Name: fmt.Sprintf("Participant %d", i),
			Type: core.ParticipantGuest,
		}
		f, err := superviz.Init(ctx, superviz.Options{
			RoomID:       roomID,
			Participant:  p,
			Transport:    hub.Transport(roomID, p),
			SlotPoolSize: opts.PoolSize,
			SlotRand:     intn,
		})
		if err != nil {
			return Result{}, fmt.Errorf("init %s: %w", p.ID, err)
		}
		facades = append(facades, f)

		if err := f.AddComponent(f.NewWhoIsOnline()); err != nil {
			return Result{}, fmt.Errorf("add who-is-online for %s: %w", p.ID, err)
		}
		logger.Debug().Str("participantID", p.ID).Msg("session joined")
	}
	hub.Flush()

	res := Result{RoomID: roomID, Roster: facades[0].Participants()}
	res.Duplicates, res.Unassigned = inspect(res.Roster)

	logger.Info().
		Int("participants", len(res.Roster)).
		Ints("duplicates", res.Duplicates).
		Strs("unassigned", res.Unassigned).
		Msg("simulation finished")

	return res, nil
}

func inspect(roster []core.Participant) (duplicates []int, unassigned []string) {
	seen := map[int]int{}
	for _, p := range roster {
		if p.Slot == nil || p.Slot.Index == nil {
			unassigned = append(unassigned, p.ID)
			continue
		}
		seen[*p.Slot.Index]++
	}
	for index, n := range seen {
		if n > 1 {
			duplicates = append(duplicates, index)
		}
	}
	sort.Ints(duplicates)

	return duplicates, unassigned
}
