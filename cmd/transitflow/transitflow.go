package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/api"
	"github.com/transitflow/transitflow/pkg/avl"
	"github.com/transitflow/transitflow/pkg/tracker"
	"github.com/transitflow/transitflow/pkg/util"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("TRANSITFLOW_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("TRANSITFLOW_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "transitflow",
		Description: "Single binary of truth for transitflow - runs all the services",

		Commands: []*cli.Command{
			tracker.RegisterCLI(func(engine *tracker.Engine) {
				env := util.GetEnvironmentVariables()

				listen := env["TRANSITFLOW_API_LISTEN"]
				if listen == "" {
					listen = ":3000"
				}

				go api.NewServer(engine).Start(listen)
			}),
			avl.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
