package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/vidmed/consultd/internal/consult"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/media"
	"github.com/vidmed/consultd/internal/queue"
)

// AppOptions is options of the application
type AppOptions struct {
	Env     core.Environment
	Address string

	DB               *sqlx.DB
	EventsPublisher  eventbus.Publisher
	EventsSubscriber eventbus.Subscriber
	Registry         *queue.Registry
	Queues           *queue.Manager
	Orchestrator     *consult.Orchestrator
	Tokens           media.TokenService
	// Admin is mounted under /admin with its own cookie auth.
	Admin http.Handler

	router         *chi.Mux
	websocket      *melody.Melody
	authMiddleware AuthHandler
}

// App is the public HTTP and websocket surface.
type App struct {
	AppOptions
}

func NewApp(options AppOptions) *App {
	options.router = chi.NewRouter()
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = 64 * 1024

	firebaseAuth := NewFirebaseAuth()
	firebaseAuth.Addr = viper.GetString("firebase_auth_service.addr")

	options.authMiddleware = firebaseAuth.Middleware()

	app := &App{
		options,
	}
	return app
}

func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	app.initLogger()
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
		close(done)
	})

	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

func (app *App) initLogger() {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if app.Env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	app.router.Use(middleware.RealIP)
	app.router.Use(middleware.Recoverer)

	app.router.Handle("/metrics", promhttp.Handler())

	if app.Admin != nil {
		app.router.Mount("/admin", app.Admin)
	}

	app.router.With(app.authMiddleware).Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", WebsocketsHandler(app.EventsSubscriber, app.DB, app.websocket))
		r.Get("/doctors", DoctorsHandler(app.Registry, app.Queues))
		r.Post("/tokens", TokensHandler(app.Tokens, app.DB))

		r.Post("/users", func(w http.ResponseWriter, r *http.Request) {
			user := core.NewUser()
			if err := json.NewDecoder(r.Body).Decode(user); err != nil {
				log.Error().Err(err).Str("service", "api").Msg("can't decode user")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if err := user.Save(app.DB); err != nil {
				log.Error().Err(err).Str("service", "api").Msg("can't save user")
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			if err := json.NewEncoder(w).Encode(user); err != nil {
				log.Error().Err(err).Str("service", "api").Msg("")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		})

		r.Get("/current_user", func(w http.ResponseWriter, request *http.Request) {
			uid, err := extractUserID(request)
			if err != nil {
				log.Error().Err(err).Str("service", "api").Msg("")
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			user, err := core.FindUserByUID(app.DB, uid)
			if err != nil {
				if err == sql.ErrNoRows {
					w.WriteHeader(http.StatusNotFound)
				} else {
					log.Error().Err(err).Str("service", "api").Msg("can't find user")
					w.WriteHeader(http.StatusBadRequest)
				}

				return
			}

			if err := json.NewEncoder(w).Encode(user); err != nil {
				log.Error().Err(err).Str("service", "api").Msg("")
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		})
	})

	app.websocket.HandleConnect(ConnectHandler)
	app.websocket.HandleDisconnect(DisconnectHandler(app.Orchestrator))
	app.websocket.HandleMessage(HandleMessage(app.EventsPublisher))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "websockets").Msg("error in websocket session")
	})

	return app.router
}

// userFromRequest resolves the authenticated uid to a user row.
func userFromRequest(db *sqlx.DB, r *http.Request) (*core.User, error) {
	uid, err := extractUserID(r)
	if err != nil {
		return nil, err
	}

	return core.FindUserByUID(db, uid)
}
