package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/vidmed/consultd/internal/bot"
)

func main() {
	app := &cli.App{
		Name:        "consultd-bot",
		Usage:       "headless patient for load and smoke testing",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Value: "localhost:3001",
				Usage: "host of the consultd server",
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "auth token passed in the X-Auth header",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "doctor",
				Usage: "doctor queue to join; empty picks the first online doctor",
			},
			&cli.StringFlag{
				Name:  "video",
				Value: "video.ivf",
				Usage: "IVF file published as the patient's camera",
			},
			&cli.DurationFlag{
				Name:  "stay",
				Value: 0,
				Usage: "hang up after this long in the consultation; 0 waits for the doctor",
			},
		},
		Action: startBot,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startBot(c *cli.Context) error {
	patient, err := bot.New(bot.Options{
		ServerHost: c.String("host"),
		AuthToken:  c.String("token"),
		DoctorID:   c.String("doctor"),
		VideoFile:  c.String("video"),
		Stay:       c.Duration("stay"),
	})
	if err != nil {
		return err
	}

	return patient.Start()
}
