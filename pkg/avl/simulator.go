package avl

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/routeconfig"
	"github.com/transitflow/transitflow/pkg/tracker"
)

// Simulator replays a block's geometry as a stream of synthetic fixes, for
// exercising the matching pipeline without a live feed. Each tick advances
// the vehicle along the stop paths at a constant speed and publishes the
// interpolated position.
type Simulator struct {
	VehicleID string
	Block     *routeconfig.Block
	ConfigRev int

	SpeedMetersPerSecond float64
	Interval             time.Duration
}

func NewSimulator(vehicleID string, block *routeconfig.Block, configRev int) *Simulator {
	return &Simulator{
		VehicleID: vehicleID,
		Block:     block,
		ConfigRev: configRev,

		SpeedMetersPerSecond: 10,
		Interval:             5 * time.Second,
	}
}

// Run publishes fixes until the vehicle has traversed every trip in the
// block or the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for tripIndex := range s.Block.Trips {
		trip, _ := s.Block.Trip(tripIndex)

		for _, path := range trip.Pattern.StopPaths {
			if len(path.Segments) == 0 {
				continue
			}

			remaining := path.Length()
			position := 0.0

			for position < remaining {
				location, heading := locationAlongPath(path, position)
				speed := s.SpeedMetersPerSecond

				report := tracker.AvlReport{
					VehicleID: s.VehicleID,
					Time:      time.Now(),
					Latitude:  location.Latitude,
					Longitude: location.Longitude,
					Speed:     &speed,
					Heading:   &heading,
					BlockID:   s.Block.ID,
					ConfigRev: s.ConfigRev,
					Source:    "simulator",
				}

				if err := tracker.PublishAvlReport(report); err != nil {
					return err
				}

				log.Debug().Str("vehicle", s.VehicleID).Str("trip", trip.ID).Str("location", location.String()).Msg("Published simulated fix")

				position += s.SpeedMetersPerSecond * s.Interval.Seconds()

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}
	}

	log.Info().Str("vehicle", s.VehicleID).Str("block", s.Block.ID).Msg("Simulation finished")

	return nil
}

// locationAlongPath interpolates the position a given distance along a stop
// path's segment chain, together with the segment heading at that point.
func locationAlongPath(path *routeconfig.StopPath, distance float64) (geom.Location, float64) {
	remaining := distance

	for _, segment := range path.Segments {
		length := segment.Length()
		if remaining <= length {
			return segment.LocationAtLength(remaining), segment.Heading()
		}
		remaining -= length
	}

	last := path.Segments[len(path.Segments)-1]

	return last.L2, last.Heading()
}
