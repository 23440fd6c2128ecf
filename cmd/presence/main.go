package main

import (
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/SuperViz/superviz-sub000/internal/agent"
	"github.com/SuperViz/superviz-sub000/internal/config"
	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/eventbus"
	"github.com/SuperViz/superviz-sub000/internal/eventbus/natsbus"
	"github.com/SuperViz/superviz-sub000/internal/simulate"
	"github.com/SuperViz/superviz-sub000/pkg/superviz"
)

var forwardedEvents = []string{
	superviz.EventJoined,
	superviz.EventLeft,
	superviz.EventLocalJoined,
	superviz.EventLocalLeft,
	superviz.EventLocalUpdated,
	superviz.EventListUpdated,
	superviz.EventSameAccountError,
}

func main() {
	app := &cli.App{
		Name:  "superviz-presence",
		Usage: "presence agent and slot simulator",
		Commands: []*cli.Command{
			{
				Name:  "join",
				Usage: "join a room over redis and serve the session over http",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "path to a config file (yaml, json or toml)",
					},
					&cli.StringFlag{
						Name:  "address",
						Usage: "listen IP and port, overrides http.addr",
					},
					&cli.StringSliceFlag{
						Name:  "component",
						Usage: "component to attach once joined: who-is-online, presence or realtime",
						Value: cli.NewStringSlice("who-is-online"),
					},
				},
				Action: join,
			},
			{
				Name:  "simulate",
				Usage: "run several sessions in process and print the slot of each participant",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "participants",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Value: 50,
					},
					&cli.Int64Flag{
						Name:  "seed",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  "manual",
						Usage: "deliver presence events only after every session joined",
					},
					&cli.StringFlag{
						Name:  "env",
						Usage: "environment: either 'development' or 'production'",
						Value: string(core.ProductionEnv),
					},
				},
				Action: runSimulation,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func join(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("address"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	agent.InitLogger(cfg.Environment(), cfg.LogLevel)

	participant := core.Participant{
		ID:   cfg.Participant.ID,
		Name: cfg.Participant.Name,
		Type: core.ParticipantType(cfg.Participant.Type),
	}
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	if participant.Name == "" {
		participant.Name = participant.ID
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	defer rdb.Close()

	busOpts := eventbus.Options{
		Backend:     eventbus.RedisPubSub(rdb),
		RoomID:      cfg.RoomID,
		Participant: participant,
		KeyPrefix:   cfg.Redis.KeyPrefix,
		PresenceTTL: cfg.Redis.PresenceTTL,
	}
	if cfg.NATS.URL != "" {
		broker, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer broker.Close()
		busOpts.Messaging = broker
	}

	transport, err := eventbus.NewTransport(busOpts)
	if err != nil {
		return err
	}

	facade, err := superviz.Init(c.Context, superviz.Options{
		RoomID:           cfg.RoomID,
		Participant:      participant,
		Transport:        transport,
		Features:         cfg.Features,
		Limits:           cfg.Limits,
		SlotPoolSize:     cfg.Slot.PoolSize,
		AttachRetryDelay: cfg.Component.AttachRetryDelay,
	})
	if err != nil {
		return err
	}

	for _, name := range c.StringSlice("component") {
		var component superviz.Component
		switch name {
		case "who-is-online":
			component = facade.NewWhoIsOnline()
		case "presence":
			component = facade.NewMousePointers()
		case "realtime":
			component = facade.NewRealtime()
		default:
			facade.Destroy()
			return fmt.Errorf("unknown component %q", name)
		}
		if err := facade.AddComponent(component); err != nil {
			log.Error().Err(err).Str("component", name).Msg("can't add component")
		}
	}

	app := agent.New(agent.AppOptions{
		Env:                 cfg.Environment(),
		LogLevel:            cfg.LogLevel,
		Address:             cfg.HTTP.Addr,
		ShutdownGracePeriod: cfg.HTTP.ShutdownGracePeriod,
		Session:             facade,
		Events:              forwardedEvents,
		OnShutdown:          facade.Destroy,
	})

	return app.Start()
}

func runSimulation(c *cli.Context) error {
	agent.InitLogger(core.Environment(c.String("env")), "")

	res, err := simulate.Run(c.Context, simulate.Options{
		Participants: c.Int("participants"),
		PoolSize:     c.Int("pool-size"),
		Seed:         c.Int64("seed"),
		Manual:       c.Bool("manual"),
	})
	if err != nil {
		return err
	}

	for _, p := range res.Roster {
		slot := "-"
		if p.Slot != nil && p.Slot.Index != nil {
			slot = fmt.Sprintf("%d (%s)", *p.Slot.Index, p.Slot.ColorName)
		}
		fmt.Printf("%-8s %s\n", p.ID, slot)
	}

	if len(res.Duplicates) > 0 {
		return fmt.Errorf("slots held twice: %v", res.Duplicates)
	}
	return nil
}
