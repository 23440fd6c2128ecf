// Package rpc is the JSON-RPC style envelope of the messages exchanged on a
// room channel.
package rpc

import (
	"encoding/json"
	"errors"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	PresenceJoinedMethod Method = "presence.joined"
	PresenceUpdateMethod Method = "presence.update"
	PresenceLeaveMethod  Method = "presence.leave"
	RoomMessageMethod    Method = "room.message"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(rpc); err != nil {
		return nil, err
	}
	if rpc.Version != jsonRpcVersion {
		return nil, ErrMalformedRpc
	}

	switch rpc.Method {
	case PresenceJoinedMethod, PresenceUpdateMethod, PresenceLeaveMethod:
		r := &PresenceRpc{jsonRpcHead: rpc.jsonRpcHead}
		if err := unmarshalParams(rpc.Params, &r.Params); err != nil {
			return nil, err
		}
		if r.Params.ID == "" {
			return nil, ErrMalformedRpc
		}

		return r, nil
	case RoomMessageMethod:
		r := &MessageRpc{jsonRpcHead: rpc.jsonRpcHead}
		if err := unmarshalParams(rpc.Params, &r.Params); err != nil {
			return nil, err
		}
		if r.Params.Name == "" {
			return nil, ErrMalformedRpc
		}

		return r, nil
	default:
		return nil, ErrUnknownRpcType
	}
}

func unmarshalParams(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return ErrMalformedRpc
	}
	return json.Unmarshal(params, dst)
}
