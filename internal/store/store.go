package store

import (
	"github.com/SuperViz/superviz-sub000/internal/core"
)

// Global is the session-wide state shared by the launcher, the slot service
// and every component.
type Global struct {
	LocalParticipant    *Subject[core.Participant]
	Participants        *Subject[map[string]core.Participant]
	Group               *Subject[core.Group]
	HasJoinedRoom       *Subject[bool]
	IsDomainWhitelisted *Subject[bool]
}

func NewGlobal() *Global {
	return &Global{
		LocalParticipant:    NewSubject(core.Participant{}),
		Participants:        NewSubject(map[string]core.Participant{}),
		Group:               NewSubject(core.Group{}),
		HasJoinedRoom:       NewSubject(false),
		IsDomainWhitelisted: NewSubject(true),
	}
}

func (g *Global) Destroy() {
	resetAll(g.LocalParticipant, g.Participants, g.Group, g.HasJoinedRoom, g.IsDomainWhitelisted)
}

// WhoIsOnline holds the list rendered by the who-is-online widget
type WhoIsOnline struct {
	Participants *Subject[[]core.Participant]
}

func NewWhoIsOnline() *WhoIsOnline {
	return &WhoIsOnline{
		Participants: NewSubject([]core.Participant(nil)),
	}
}

func (w *WhoIsOnline) Destroy() {
	resetAll(w.Participants)
}

// Pointer is the last known cursor position of a participant
type Pointer struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Slot          core.Slot `json:"slot"`
	Timestamp     int64     `json:"timestamp"`
}

type Pointers struct {
	Positions *Subject[map[string]Pointer]
}

func NewPointers() *Pointers {
	return &Pointers{
		Positions: NewSubject(map[string]Pointer{}),
	}
}

func (p *Pointers) Destroy() {
	resetAll(p.Positions)
}

// Registry hands out the typed stores of one session
type Registry struct {
	global      *Global
	whoIsOnline *WhoIsOnline
	pointers    *Pointers
}

func NewRegistry() *Registry {
	return &Registry{
		global:      NewGlobal(),
		whoIsOnline: NewWhoIsOnline(),
		pointers:    NewPointers(),
	}
}

func (r *Registry) Global() *Global {
	return r.global
}

func (r *Registry) WhoIsOnline() *WhoIsOnline {
	return r.whoIsOnline
}

func (r *Registry) Pointers() *Pointers {
	return r.pointers
}

func (r *Registry) Destroy() {
	r.global.Destroy()
	r.whoIsOnline.Destroy()
	r.pointers.Destroy()
}

// CopyParticipants returns a shallow copy of a roster map, ready to be
// modified and published as a new value.
func CopyParticipants(src map[string]core.Participant) map[string]core.Participant {
	dst := make(map[string]core.Participant, len(src))
	for id, p := range src {
		dst[id] = p
	}
	return dst
}
