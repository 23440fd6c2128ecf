// Package eventbus is the room transport backed by redis: presence records
// live in hashes, presence and message events travel over pub/sub.
package eventbus

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBus is a live pub/sub subscription
type RedisBus interface {
	Channel() <-chan *redis.Message
	Close() error
}

// Backend is the subset of redis the transport relies on
type Backend interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (RedisBus, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
}

type Subscription struct {
	pubsub *redis.PubSub
}

func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

type Eventbus struct {
	rdb redis.UniversalClient
}

// RedisPubSub is factory for building Eventbus based on redis pubsub
func RedisPubSub(rdb redis.UniversalClient) *Eventbus {
	return &Eventbus{rdb: rdb}
}

func (e *Eventbus) Publish(ctx context.Context, channel string, payload []byte) error {
	return e.rdb.Publish(ctx, channel, payload).Err()
}

func (e *Eventbus) Subscribe(ctx context.Context, channel string) (RedisBus, error) {
	pubsub := e.rdb.Subscribe(ctx, channel)
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	return &Subscription{pubsub: pubsub}, nil
}

func (e *Eventbus) HSet(ctx context.Context, key, field string, value []byte) error {
	return e.rdb.HSet(ctx, key, field, value).Err()
}

func (e *Eventbus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return e.rdb.HGetAll(ctx, key).Result()
}

func (e *Eventbus) HDel(ctx context.Context, key, field string) error {
	return e.rdb.HDel(ctx, key, field).Err()
}

// IsAuthError reports whether redis rejected the credentials
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		return strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS")
	}
	return false
}

// Keys names the redis keys of one room
type Keys struct {
	Prefix string
	RoomID string
	Name   string
}

func (k Keys) base() string {
	return k.Prefix + ":" + k.RoomID + ":" + k.Name
}

// Channel is the pub/sub channel carrying the room events
func (k Keys) Channel() string {
	return k.base() + ":events"
}

// Presence is the hash of presence records, one field per participant
func (k Keys) Presence() string {
	return k.base() + ":presence"
}

// Connections is the hash of open connections, one field per connection
func (k Keys) Connections() string {
	return k.base() + ":connections"
}
