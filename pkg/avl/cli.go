package avl

import (
	"context"
	"time"

	"github.com/transitflow/transitflow/pkg/database"
	"github.com/transitflow/transitflow/pkg/redis_client"
	"github.com/transitflow/transitflow/pkg/routeconfig"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "avl",
		Usage: "Tools for feeding AVL fixes into the tracker",
		Subcommands: []*cli.Command{
			{
				Name:  "simulate",
				Usage: "publish synthetic fixes along a block's geometry",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vehicle", Required: true},
					&cli.StringFlag{Name: "block", Required: true},
					&cli.IntFlag{Name: "config-rev", Value: 0},
					&cli.Float64Flag{Name: "speed", Value: 10, Usage: "vehicle speed in meters per second"},
					&cli.DurationFlag{Name: "interval", Value: 5 * time.Second, Usage: "time between fixes"},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					ctx := context.Background()

					blocks, err := database.NewMongoBlockSource().LoadBlocks(ctx, c.Int("config-rev"))
					if err != nil {
						return err
					}

					var block *routeconfig.Block
					for _, candidate := range blocks {
						if candidate.ID == c.String("block") {
							block = candidate
							break
						}
					}
					if block == nil {
						return cli.Exit("block not found in config revision", 1)
					}

					simulator := NewSimulator(c.String("vehicle"), block, c.Int("config-rev"))
					simulator.SpeedMetersPerSecond = c.Float64("speed")
					simulator.Interval = c.Duration("interval")

					return simulator.Run(ctx)
				},
			},
		},
	}
}
