package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/room"
)

// Config holds the settings of the presence agent and the simulator
type Config struct {
	Env         string            `mapstructure:"env"`
	LogLevel    string            `mapstructure:"log_level"`
	RoomID      string            `mapstructure:"room_id"`
	Participant ParticipantConfig `mapstructure:"participant"`
	Slot        SlotConfig        `mapstructure:"slot"`
	Component   ComponentConfig   `mapstructure:"component"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Features    Features          `mapstructure:"features"`
	Limits      Limits            `mapstructure:"limits"`
}

type ParticipantConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

type SlotConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

type ComponentConfig struct {
	AttachRetryDelay time.Duration `mapstructure:"attach_retry_delay"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	DB          int           `mapstructure:"db"`
	Password    string        `mapstructure:"password"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

// NATSConfig enables room messages over NATS when URL is set
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type HTTPConfig struct {
	Addr                string        `mapstructure:"addr"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultEnv                 = "production"
	defaultLogLevel            = "info"
	defaultRoomID              = "default"
	defaultPoolSize            = 50
	defaultAttachRetryDelay    = time.Second
	defaultRedisAddr           = "localhost:6379"
	defaultKeyPrefix           = "superviz"
	defaultPresenceTTL         = 60 * time.Second
	defaultSubjectPrefix       = "superviz"
	defaultHTTPAddr            = ":8080"
	defaultShutdownGracePeriod = 10 * time.Second
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with SUPERVIZ_, nested keys
// use underscores: SUPERVIZ_REDIS_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUPERVIZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("env", defaultEnv)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("room_id", defaultRoomID)
	v.SetDefault("participant.id", "")
	v.SetDefault("participant.name", "")
	v.SetDefault("participant.type", string(core.ParticipantGuest))
	v.SetDefault("slot.pool_size", defaultPoolSize)
	v.SetDefault("component.attach_retry_delay", defaultAttachRetryDelay.String())
	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.key_prefix", defaultKeyPrefix)
	v.SetDefault("redis.presence_ttl", defaultPresenceTTL.String())
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", defaultSubjectPrefix)
	v.SetDefault("http.addr", defaultHTTPAddr)
	v.SetDefault("http.shutdown_grace_period", defaultShutdownGracePeriod.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	durations := map[string]*time.Duration{
		"component.attach_retry_delay": &cfg.Component.AttachRetryDelay,
		"redis.presence_ttl":           &cfg.Redis.PresenceTTL,
		"http.shutdown_grace_period":   &cfg.HTTP.ShutdownGracePeriod,
	}
	for key, dst := range durations {
		dur, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = dur
	}

	if _, err := core.ParseEnvironment(cfg.Env); err != nil {
		return Config{}, err
	}
	if cfg.Slot.PoolSize <= 0 {
		return Config{}, fmt.Errorf("invalid slot.pool_size: %d", cfg.Slot.PoolSize)
	}

	return cfg, nil
}

func (c Config) Environment() core.Environment {
	env, err := core.ParseEnvironment(c.Env)
	if err != nil {
		return core.ProductionEnv
	}
	return env
}

// Features maps component names to their remote flag. Components missing
// from the map are enabled. Keys are matched case-insensitively since viper
// lowercases them.
type Features map[string]bool

func (f Features) Enabled(name core.ComponentName) bool {
	enabled, ok := f[strings.ToLower(name.String())]
	return !ok || enabled
}

type Limit struct {
	CanUse          *bool `mapstructure:"can_use"`
	MaxParticipants int   `mapstructure:"max_participants"`
}

// Limits are the usage limits of the plan, per component name
type Limits map[string]Limit

func (l Limits) CanUse(name core.ComponentName) bool {
	limit, ok := l[strings.ToLower(name.String())]
	return !ok || limit.CanUse == nil || *limit.CanUse
}

// ConnectionLimit is the maximum number of connections to the component
// room, room.Unlimited when not configured.
func (l Limits) ConnectionLimit(name core.ComponentName) int {
	limit, ok := l[strings.ToLower(name.String())]
	if !ok || limit.MaxParticipants <= 0 {
		return room.Unlimited
	}
	return limit.MaxParticipants
}
