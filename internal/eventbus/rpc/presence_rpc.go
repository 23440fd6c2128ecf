package rpc

import (
	"encoding/json"

	"github.com/SuperViz/superviz-sub000/internal/room"
)

type PresenceRpc struct {
	jsonRpcHead
	Params room.PresenceEvent `json:"params"`
}

func NewPresenceRpc(method Method, event room.PresenceEvent) *PresenceRpc {
	return &PresenceRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: event,
	}
}

// EventType maps the method to the presence event delivered to handlers
func (r PresenceRpc) EventType() room.PresenceEventType {
	switch r.Method {
	case PresenceJoinedMethod:
		return room.PresenceJoinedRoom
	case PresenceLeaveMethod:
		return room.PresenceLeave
	default:
		return room.PresenceUpdate
	}
}

func (r PresenceRpc) GetMethod() Method {
	return r.Method
}

func (r PresenceRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
