package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/vidmed/consultd/internal/audit"
	"github.com/vidmed/consultd/internal/config"
)

func main() {
	app := &cli.App{
		Name:        "consultd-audit",
		Usage:       "consumes consultation events and writes the audit log",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "env",
				Usage:    "environment: either 'development' or 'production'",
				Required: true,
			},
		},
		Action: startAudit,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startAudit(c *cli.Context) error {
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

	daemon, err := audit.New(conf.Nats.Addr, db)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		daemon.Stop()
	}()

	return daemon.Run()
}
