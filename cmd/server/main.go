package main

import (
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/vidmed/consultd/internal/admin"
	"github.com/vidmed/consultd/internal/api"
	"github.com/vidmed/consultd/internal/audit"
	"github.com/vidmed/consultd/internal/config"
	"github.com/vidmed/consultd/internal/consult"
	"github.com/vidmed/consultd/internal/core"
	"github.com/vidmed/consultd/internal/eventbus"
	"github.com/vidmed/consultd/internal/media"
	"github.com/vidmed/consultd/internal/queue"
	"github.com/vidmed/consultd/internal/rtc"
)

func main() {
	app := &cli.App{
		Name:        "consultd",
		Usage:       "on-demand consultation orchestrator",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':80' (default value) for listen on 0.0.0.0:80",
				Value: ":80",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	conf, err := config.Load(c.String("env"))
	if err != nil {
		return err
	}

	db, err := sqlx.Connect("pgx", conf.Database.URL)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: conf.Redis.Addr,
		DB:   conf.Redis.DB,
	})
	bus := eventbus.RedisPubSub(rdb)

	consultations := core.NewConsultationsRepository(db)
	registry := queue.NewRegistry()
	queues := queue.NewManager(bus, conf.Queue.DefaultConsultationDuration)
	coordinator := consult.NewCoordinator(queues, consultations, bus)

	webrtcConf, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return err
	}
	rooms := rtc.NewRooms(conf.Peer, webrtcConf, bus)

	auditPublisher, err := audit.NewPublisher(conf.Nats.Addr)
	if err != nil {
		return err
	}
	defer auditPublisher.Close()

	orchestrator := consult.NewOrchestrator(registry, queues, coordinator, rooms, auditPublisher)

	router, err := eventbus.NewRouter(bus)
	if err != nil {
		return err
	}
	orchestrator.Bind(router)
	<-router.Start()
	defer func() {
		<-router.Stop()
	}()

	adminApp := admin.NewApp(
		db,
		registry,
		queues,
		consultations,
		viper.GetString("admin.root_url"),
		[]byte(viper.GetString("admin.session_secret")),
	)

	apiApp := api.NewApp(api.AppOptions{
		Env:              core.Environment(c.String("env")),
		Address:          c.String("address"),
		DB:               db,
		EventsPublisher:  bus,
		EventsSubscriber: bus,
		Registry:         registry,
		Queues:           queues,
		Orchestrator:     orchestrator,
		Tokens:           media.NewJWTTokens([]byte(viper.GetString("token.secret"))),
		Admin:            adminApp.Router(),
	})

	return apiApp.Start()
}
