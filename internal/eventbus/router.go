package eventbus

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/eventbus/rpc"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

var (
	errConvertPresence = errors.New("can't convert to presence rpc")
	errConvertMessage  = errors.New("can't convert to message rpc")
	errUndefinedMethod = errors.New("undefined method")
)

// Router reads the room channel and calls the room callbacks for every rpc
type Router struct {
	bus RedisBus

	onPresence func(room.PresenceEventType, room.PresenceEvent)
	onMessage  func(room.Message)

	startOnce sync.Once
	stopOnce  sync.Once
	started   chan struct{}
	stop      chan struct{}
	done      chan struct{}
}

func NewRouter(bus RedisBus) *Router {
	return &Router{
		bus:        bus,
		onPresence: func(room.PresenceEventType, room.PresenceEvent) {},
		onMessage:  func(room.Message) {},
		started:    make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (router *Router) OnPresence(callback func(room.PresenceEventType, room.PresenceEvent)) {
	router.onPresence = callback
}

func (router *Router) OnMessage(callback func(room.Message)) {
	router.onMessage = callback
}

// Start launches the read loop, the returned channel is closed once it runs
func (router *Router) Start() <-chan struct{} {
	router.startOnce.Do(func() {
		log.Debug().Str("service", "router").Msg("start")

		go func() {
			defer close(router.done)

			channel := router.bus.Channel()
			close(router.started)

			for {
				select {
				case <-router.stop:
					return
				case msg, ok := <-channel:
					if !ok {
						return
					}
					router.handle(msg)
				}
			}
		}()
	})

	return router.started
}

// Stop ends the read loop, the returned channel is closed once it exited.
// A message being handled is finished first.
func (router *Router) Stop() <-chan struct{} {
	router.stopOnce.Do(func() {
		close(router.stop)
	})

	return router.done
}

func (router *Router) handle(msg *redis.Message) {
	r, err := rpc.RpcFromReader(strings.NewReader(msg.Payload))
	if err != nil {
		log.Error().Err(err).Str("service", "router").Msg("")
		return
	}

	switch r.GetMethod() {
	case rpc.PresenceJoinedMethod, rpc.PresenceUpdateMethod, rpc.PresenceLeaveMethod:
		p, ok := r.(*rpc.PresenceRpc)
		if !ok {
			log.Error().Err(errConvertPresence).Str("service", "router").Msg("")
			return
		}
		router.onPresence(p.EventType(), p.Params)
	case rpc.RoomMessageMethod:
		m, ok := r.(*rpc.MessageRpc)
		if !ok {
			log.Error().Err(errConvertMessage).Str("service", "router").Msg("")
			return
		}
		router.onMessage(m.Params)
	default:
		log.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("")
	}
}
