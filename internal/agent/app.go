// Package agent serves a presence session over HTTP: health, the roster,
// prometheus metrics and a websocket feed of the session events.
package agent

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
)

const defaultGracePeriod = 20 * time.Second

// Session is the part of a presence session the agent exposes
type Session interface {
	Subscribe(event string, cb observer.Callback) func()
	LocalParticipant() core.Participant
	Participants() []core.Participant
}

// AppOptions is options of the application
type AppOptions struct {
	Env                 core.Environment
	LogLevel            string
	Address             string
	ShutdownGracePeriod time.Duration
	Session             Session
	// Events are forwarded to every websocket client
	Events []string
	// OnShutdown runs once the http server stopped
	OnShutdown func()

	websocket *melody.Melody
}

// App is the http server of a presence agent
type App struct {
	AppOptions

	mu     sync.Mutex
	unsubs []func()
}

func New(options AppOptions) *App {
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = 16 * 1024
	if options.ShutdownGracePeriod <= 0 {
		options.ShutdownGracePeriod = defaultGracePeriod
	}

	app := &App{
		AppOptions: options,
	}
	return app
}

// Start serves until SIGINT or SIGTERM
func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	InitLogger(app.Env, app.LogLevel)
	router := app.Router()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")
		app.Close()
		if app.OnShutdown != nil {
			app.OnShutdown()
		}
		log.Info().Msg("all services are stopped")
		close(done)
	})

	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownGracePeriod)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("address", app.Address).Msg("presence agent started")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// Close stops forwarding events and disconnects the websocket clients
func (app *App) Close() {
	app.mu.Lock()
	unsubs := app.unsubs
	app.unsubs = nil
	app.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if err := app.websocket.Close(); err != nil {
		log.Error().Err(err).Str("service", "agent").Msg("close websockets")
	}
}

// InitLogger writes to the console, at debug level in development unless a
// level is given
func InitLogger(env core.Environment, level string) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	lvl := zerolog.InfoLevel
	if env.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		} else {
			log.Warn().Str("level", level).Msg("unknown log level")
		}
	}

	zerolog.SetGlobalLevel(lvl)
}

// Router builds the http router and starts forwarding session events
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.websocket.HandleConnect(ConnectHandler(app.Session))
	app.websocket.HandleDisconnect(DisconnectHandler())
	app.websocket.HandleMessage(HandleMessage())
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "agent").Msg("error in websocket session")
	})

	app.forward()

	r.Get("/healthz", HealthHandler())
	r.Get("/participants", ParticipantsHandler(app.Session))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", WsHandler(app.websocket))

	return r
}

func (app *App) forward() {
	app.mu.Lock()
	defer app.mu.Unlock()

	if len(app.unsubs) > 0 {
		return
	}
	for _, event := range app.Events {
		event := event
		unsub := app.Session.Subscribe(event, func(payload interface{}) {
			Broadcast(app.websocket, event, payload)
		})
		app.unsubs = append(app.unsubs, unsub)
	}
}
