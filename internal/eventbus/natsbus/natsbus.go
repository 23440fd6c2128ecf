// Package natsbus carries room messages over NATS, one subject per room.
package natsbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/room"
)

const DefaultSubjectPrefix = "superviz"

// Conn is the part of a NATS connection the broker uses
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

type natsConn struct {
	nc *nats.Conn
}

func (c natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c natsConn) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

type Broker struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials url and returns a broker publishing under prefix
func Connect(url, prefix string) (*Broker, error) {
	nc, err := nats.Connect(url,
		nats.Name("superviz-presence"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("service", "natsbus").Msg("disconnected")
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	b := New(natsConn{nc: nc}, prefix)
	b.nc = nc
	return b, nil
}

func New(conn Conn, prefix string) *Broker {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Broker{
		conn:   conn,
		prefix: prefix,
		logger: log.With().Str("service", "natsbus").Logger(),
	}
}

// Subject is the subject of a room, tokens are stripped of the characters
// NATS reserves
func (b *Broker) Subject(roomID, name string) string {
	return b.prefix + "." + token(roomID) + "." + token(name)
}

func (b *Broker) Publish(_ context.Context, roomID, name string, msg room.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.Subject(roomID, name), data)
}

func (b *Broker) Subscribe(roomID, name string, handler room.MessageHandler) (room.Subscription, error) {
	subject := b.Subject(roomID, name)

	unsubscribe, err := b.conn.Subscribe(subject, func(data []byte) {
		msg := room.Message{}
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Error().Err(err).Str("subject", subject).Msg("malformed message")
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, err
	}

	return room.SubscriptionFunc(func() {
		if err := unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("unsubscribe failed")
		}
	}), nil
}

// Close drains the connection opened by Connect
func (b *Broker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
