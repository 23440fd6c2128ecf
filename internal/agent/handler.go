package agent

import (
	"encoding/json"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
)

// SnapshotEvent is the first frame of every websocket connection
const SnapshotEvent = "snapshot"

// Frame is what websocket clients receive
type Frame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type roster struct {
	Local        core.Participant   `json:"local"`
	Participants []core.Participant `json:"participants"`
}

func snapshot(session Session) roster {
	return roster{
		Local:        session.LocalParticipant(),
		Participants: session.Participants(),
	}
}

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func ParticipantsHandler(session Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot(session)); err != nil {
			log.Error().Err(err).Str("service", "agent").Msg("can't encode participants")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func WsHandler(websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := websocket.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Str("service", "agent").Msg("can't handle request")
		}
	}
}

// Broadcast sends an event frame to every websocket client
func Broadcast(websocket *melody.Melody, event string, payload interface{}) {
	msg, err := json.Marshal(Frame{Event: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("service", "agent").Str("event", event).Msg("can't encode event")
		return
	}
	if err := websocket.Broadcast(msg); err != nil {
		log.Debug().Err(err).Str("service", "agent").Str("event", event).Msg("broadcast skipped")
	}
}

func ConnectHandler(session Session) func(s *melody.Session) {
	return func(s *melody.Session) {
		log.Debug().Str("service", "agent").Str("remoteAddr", s.Request.RemoteAddr).Msg("websocket connected")

		msg, err := json.Marshal(Frame{Event: SnapshotEvent, Payload: snapshot(session)})
		if err != nil {
			log.Error().Err(err).Str("service", "agent").Msg("can't encode snapshot")
			return
		}
		if err := s.Write(msg); err != nil {
			log.Error().Err(err).Str("service", "agent").Msg("can't write snapshot")
		}
	}
}

func DisconnectHandler() func(s *melody.Session) {
	return func(s *melody.Session) {
		log.Debug().Str("service", "agent").Str("remoteAddr", s.Request.RemoteAddr).Msg("websocket disconnected")
	}
}

// HandleMessage ignores client frames, the feed is one way
func HandleMessage() func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		log.Debug().Str("service", "agent").Int("size", len(msg)).Msg("ignoring client message")
	}
}
