package rpc

import (
	"encoding/json"

	"github.com/SuperViz/superviz-sub000/internal/room"
)

type MessageRpc struct {
	jsonRpcHead
	Params room.Message `json:"params"`
}

func NewMessageRpc(msg room.Message) *MessageRpc {
	return &MessageRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  RoomMessageMethod,
		},
		Params: msg,
	}
}

func (r MessageRpc) GetMethod() Method {
	return r.Method
}

func (r MessageRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
