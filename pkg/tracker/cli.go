package tracker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/configcache"
	"github.com/transitflow/transitflow/pkg/database"
	"github.com/transitflow/transitflow/pkg/elastic_client"
	"github.com/transitflow/transitflow/pkg/matcher"
	"github.com/transitflow/transitflow/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

const assignmentCacheExpiry = 90 * time.Minute

func loadMatcherConfig(path string) matcher.Config {
	if path == "" {
		return matcher.DefaultConfig()
	}

	config, err := matcher.LoadConfig(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load matcher config")
	}

	return config
}

// RegisterCLI builds the tracker command tree. onStart hooks run once the
// consumers are up and receive the live engine; the query API attaches
// through one of these so it can serve in-memory vehicle state without the
// engine knowing about it.
func RegisterCLI(onStart ...func(*Engine)) *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Realtime engine ingests AVL fixes and matches vehicles to their trips",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run an instance of the matching engine",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "matcher-config", Usage: "path to the matching tolerances yaml"},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					engine := NewEngine(
						loadMatcherConfig(c.String("matcher-config")),
						configcache.New(database.NewMongoBlockSource()),
						database.NewMongoServiceCalendar(),
						NewMongoEventSink(),
					).WithAssignmentCache(NewAssignmentCache(assignmentCacheExpiry))

					StartConsumers(engine)

					go StartStatsServer()

					for _, hook := range onStart {
						hook(engine)
					}

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish
					elastic_client.WaitUntilQueueEmpty()

					return nil
				},
			},
			{
				Name:  "test-match",
				Usage: "run a single fix through the matcher and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vehicle", Required: true},
					&cli.StringFlag{Name: "block", Required: true},
					&cli.IntFlag{Name: "config-rev", Value: 0},
					&cli.Float64Flag{Name: "lat", Required: true},
					&cli.Float64Flag{Name: "lon", Required: true},
					&cli.StringFlag{Name: "matcher-config"},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					engine := NewEngine(
						loadMatcherConfig(c.String("matcher-config")),
						configcache.New(database.NewMongoBlockSource()),
						database.NewMongoServiceCalendar(),
					)

					result, err := engine.Match(context.Background(), AvlReport{
						VehicleID: c.String("vehicle"),
						Time:      time.Now(),
						Latitude:  c.Float64("lat"),
						Longitude: c.Float64("lon"),
						BlockID:   c.String("block"),
						ConfigRev: c.Int("config-rev"),
						Source:    "test-match",
					})
					pretty.Println(result, err)

					return nil
				},
			},
		},
	}
}
