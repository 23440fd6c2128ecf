// Package whoisonline keeps the list of participants showing the
// who-is-online widget.
package whoisonline

import (
	"context"
	"sort"

	"github.com/SuperViz/superviz-sub000/internal/component"
	"github.com/SuperViz/superviz-sub000/internal/core"
)

const EventListUpdated = "who-is-online.list-updated"

type WhoIsOnline struct {
	*component.Base
}

func New(opts ...component.Option) *WhoIsOnline {
	w := &WhoIsOnline{}
	w.Base = component.NewBase(core.WhoIsOnline, w, opts...)
	return w
}

func (w *WhoIsOnline) Start(_ context.Context) {
	participants := w.Stores().Global().Participants

	w.refresh(participants.Value())
	w.Track(participants.Subscribe(w.refresh))
}

func (w *WhoIsOnline) Destroy() {
	w.Stores().WhoIsOnline().Participants.Publish(nil)
}

func (w *WhoIsOnline) refresh(roster map[string]core.Participant) {
	list := Online(roster)

	w.Stores().WhoIsOnline().Participants.Publish(list)
	w.Publish(EventListUpdated, list)
}

// Online returns the participants running who-is-online, ordered by slot
// index then name. Participants without a slot come last.
func Online(roster map[string]core.Participant) []core.Participant {
	list := make([]core.Participant, 0, len(roster))
	for _, p := range roster {
		if p.HasComponent(core.WhoIsOnline) {
			list = append(list, p.Clone())
		}
	}

	sort.Slice(list, func(i, j int) bool {
		a, aok := list[i].SlotIndex()
		b, bok := list[j].SlotIndex()
		if aok != bok {
			return aok
		}
		if aok && a != b {
			return a < b
		}
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})

	return list
}
