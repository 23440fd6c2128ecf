package launcher

import (
	"context"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
	"github.com/SuperViz/superviz-sub000/internal/store"
	"github.com/SuperViz/superviz-sub000/internal/telemetry"
)

func (l *Launcher) onJoinedRoom(e room.PresenceEvent) {
	if l.isDestroyed() {
		return
	}

	local := l.global.LocalParticipant.Value()
	if e.ID != local.ID {
		// peers announce themselves with an update right after joining
		l.logger.Debug().Str("participantID", e.ID).Msg("participant joined the room")
		return
	}

	l.publishPresence(local)
	l.loadSnapshot()

	l.mu.Lock()
	if l.joined {
		l.mu.Unlock()
		return
	}
	l.joined = true
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	l.global.HasJoinedRoom.Publish(true)

	for _, c := range queue {
		if err := l.attach(c); err != nil {
			l.logger.Error().Err(err).Str("component", c.Name().String()).Msg("can't attach queued component")
		}
	}

	local = l.global.LocalParticipant.Value()
	l.events.Publish(EventLocalJoined, local)
	l.events.Publish(EventJoined, local)
	l.logger.Debug().Str("participantID", local.ID).Int("queued", len(queue)).Msg("joined room")
}

// loadSnapshot folds the current presence entries into the roster
func (l *Launcher) loadSnapshot() {
	entries, err := l.room.Presence().Get(context.Background())
	if err != nil {
		l.logger.Error().Err(err).Msg("can't load presence snapshot")
		return
	}

	local := l.global.LocalParticipant.Value()
	l.foldRoster(func(roster map[string]core.Participant) map[string]core.Participant {
		next := store.CopyParticipants(roster)
		next[local.ID] = local
		for _, e := range entries {
			if e.ID == local.ID {
				continue
			}
			p, err := e.Participant()
			if err != nil {
				l.logger.Warn().Err(err).Str("participantID", e.ID).Msg("skip malformed presence entry")
				continue
			}
			p.Timestamp = e.Timestamp
			next[e.ID] = p
		}
		return next
	})
}

func (l *Launcher) onLeave(e room.PresenceEvent) {
	if l.isDestroyed() {
		return
	}

	left := core.Participant{ID: e.ID, Name: e.Name}
	roster := l.global.Participants.Update(func(roster map[string]core.Participant) map[string]core.Participant {
		if p, ok := roster[e.ID]; ok {
			left = p
		}
		next := store.CopyParticipants(roster)
		delete(next, e.ID)
		return next
	})
	telemetry.ParticipantsChanged(len(roster))

	if e.ID == l.global.LocalParticipant.Value().ID {
		l.events.Publish(EventLocalLeft, left)
	}
	l.events.Publish(EventLeft, left)
	l.events.Publish(EventListUpdated, sortedRoster(roster))
}

func (l *Launcher) onUpdate(e room.PresenceEvent) {
	if l.isDestroyed() {
		return
	}

	localID := l.global.LocalParticipant.Value().ID
	var entry core.Participant

	if e.ID == localID {
		var mergeErr error
		entry = l.global.LocalParticipant.Update(func(current core.Participant) core.Participant {
			merged, err := current.Merge(e.Data)
			if err != nil {
				mergeErr = err
				return current
			}
			// slot and components in flight are owned by this session
			merged.ID = current.ID
			merged.Timestamp = e.Timestamp
			merged.Slot = current.Clone().Slot
			merged.ActiveComponents = current.Clone().ActiveComponents
			return merged
		})
		if mergeErr != nil {
			l.logger.Warn().Err(mergeErr).Msg("skip malformed self presence update")
			return
		}
		l.events.Publish(EventLocalUpdated, entry)
	}

	var (
		firstSeen bool
		err       error
	)
	changed := l.foldRoster(func(roster map[string]core.Participant) map[string]core.Participant {
		prev, ok := roster[e.ID]
		firstSeen = !ok
		if e.ID != localID {
			if !ok {
				prev = core.Participant{ID: e.ID, Name: e.Name}
			}
			entry, err = prev.Merge(e.Data)
			if err != nil {
				return roster
			}
			entry.ID = e.ID
			entry.Timestamp = e.Timestamp
			if entry.Name == "" {
				entry.Name = e.Name
			}
		}
		next := store.CopyParticipants(roster)
		next[e.ID] = entry
		return next
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("participantID", e.ID).Msg("skip malformed presence update")
		return
	}

	if firstSeen && changed {
		l.events.Publish(EventJoined, entry)
	}
}

// foldRoster applies fn to the roster. The new roster is published, and
// announced with EventListUpdated, only when it differs from the current
// one.
func (l *Launcher) foldRoster(fn func(map[string]core.Participant) map[string]core.Participant) bool {
	next, changed := l.global.Participants.UpdateIf(func(roster map[string]core.Participant) (map[string]core.Participant, bool) {
		next := fn(roster)
		return next, rosterChanged(roster, next)
	})
	if !changed {
		return false
	}

	telemetry.ParticipantsChanged(len(next))
	l.events.Publish(EventListUpdated, sortedRoster(next))
	return true
}

func (l *Launcher) onConnectionState(state room.ConnectionState) {
	switch state {
	case room.StateAuthError:
		l.logger.Error().Err(errDomainNotWhitelisted).Msg("authentication failed, destroying session")
		l.Destroy()
		l.global.IsDomainWhitelisted.Publish(false)
	case room.StateSameAccountError:
		local := l.global.LocalParticipant.Value()
		l.events.Publish(EventSameAccountError, local)
		l.logger.Error().Err(room.ErrSameAccount).Str("participantID", local.ID).Msg("participant connected twice, destroying session")
		l.Destroy()
	default:
		l.logger.Debug().Str("state", string(state)).Msg("connection state changed")
	}
}
