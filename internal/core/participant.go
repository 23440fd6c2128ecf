package core

import (
	"encoding/json"
)

// ParticipantType is the role of a participant inside the room
type ParticipantType string

const (
	ParticipantHost     ParticipantType = "host"
	ParticipantGuest    ParticipantType = "guest"
	ParticipantAudience ParticipantType = "audience"
)

type Avatar struct {
	ImageURL   string `json:"imageUrl,omitempty"`
	Model3DURL string `json:"model3DUrl,omitempty"`
}

// Group is the account/organization the room belongs to
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Participant is the identity and state record synchronized across sessions
// through the presence feed.
type Participant struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	Type             ParticipantType `json:"type,omitempty"`
	Email            string          `json:"email,omitempty"`
	Avatar           *Avatar         `json:"avatar,omitempty"`
	Slot             *Slot           `json:"slot,omitempty"`
	ActiveComponents []ComponentName `json:"activeComponents"`
	Timestamp        int64           `json:"timestamp"`
}

// Clone returns a deep copy, so the result can be mutated without touching
// a snapshot published elsewhere.
func (p Participant) Clone() Participant {
	c := p
	if p.Avatar != nil {
		avatar := *p.Avatar
		c.Avatar = &avatar
	}
	if p.Slot != nil {
		slot := p.Slot.Clone()
		c.Slot = &slot
	}
	if p.ActiveComponents != nil {
		c.ActiveComponents = make([]ComponentName, len(p.ActiveComponents))
		copy(c.ActiveComponents, p.ActiveComponents)
	}

	return c
}

// Merge overlays a partial JSON record: fields present in data replace the
// current ones, absent fields are kept.
func (p Participant) Merge(data json.RawMessage) (Participant, error) {
	merged := p.Clone()
	if len(data) == 0 {
		return merged, nil
	}
	if err := json.Unmarshal(data, &merged); err != nil {
		return p, err
	}

	return merged, nil
}

// HasComponent reports whether the component is in ActiveComponents
func (p Participant) HasComponent(name ComponentName) bool {
	for _, c := range p.ActiveComponents {
		if c == name {
			return true
		}
	}
	return false
}

// SlotIndex returns the assigned slot index, ok is false when unassigned
func (p Participant) SlotIndex() (int, bool) {
	if p.Slot == nil || p.Slot.Index == nil {
		return 0, false
	}
	return *p.Slot.Index, true
}
