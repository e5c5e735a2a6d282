package matcher

import (
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// SpatialMatch is the nearest point on a block's route geometry to a GPS
// fix. It is recomputed for every fix and never persisted as-is.
type SpatialMatch struct {
	BlockID   string
	TripID    string
	TripIndex int

	StopPathIndex int
	SegmentIndex  int

	DistanceAlongSegment  float64
	DistanceAlongStopPath float64
	DistanceFromSegment   float64

	AtStop bool
}

// SpatialMatcher projects fixes onto candidate trips' stop paths.
type SpatialMatcher struct {
	config Config
}

func NewSpatialMatcher(config Config) *SpatialMatcher {
	return &SpatialMatcher{config: config}
}

// MaxAllowableDistance returns the widest segment cutoff any stop path of
// the trip can claim. Pre-filters must honor this distance, not the global
// default, so a per-path override can never be hidden by a bounding box.
func (m *SpatialMatcher) MaxAllowableDistance(trip *routeconfig.Trip) float64 {
	cutoff := m.config.MaxDistanceFromSegment

	if trip == nil || trip.Pattern == nil {
		return cutoff
	}

	for _, stopPath := range trip.Pattern.StopPaths {
		if stopPath.MaxDistanceFromSegment > cutoff {
			cutoff = stopPath.MaxDistanceFromSegment
		}
	}

	return cutoff
}

// Match scans every segment of every stop path of the candidate trips and
// returns the closest one, or reports no match when every segment is beyond
// the allowable distance. Candidates come from the block's activity window.
//
// Ties within the configured epsilon go to the earlier
// (stopPathIndex, segmentIndex) so a vehicle near overlapping geometry does
// not oscillate backwards.
func (m *SpatialMatcher) Match(block *routeconfig.Block, tripIndexes []int, loc geom.Location) (SpatialMatch, bool) {
	best := SpatialMatch{BlockID: block.ID}
	found := false

	for _, tripIndex := range tripIndexes {
		trip, ok := block.Trip(tripIndex)
		if !ok || trip.Pattern == nil || len(trip.Pattern.StopPaths) == 0 {
			// Malformed candidates fail closed rather than matching badly.
			continue
		}

		// The extent check must use the widest cutoff any stop path can
		// claim: pre-filtering with the narrow global default would hide
		// matches a per-path override allows.
		if trip.Pattern.Extent != nil && !trip.Pattern.Extent.IsWithinDistance(loc, m.MaxAllowableDistance(trip)) {
			continue
		}

		for stopPathIndex, stopPath := range trip.Pattern.StopPaths {
			cutoff := m.config.MaxDistanceFromSegment
			if stopPath.MaxDistanceFromSegment > 0 {
				cutoff = stopPath.MaxDistanceFromSegment
			}

			var priorLength float64

			for segmentIndex, segment := range stopPath.Segments {
				distance := segment.Distance(loc)

				if distance <= cutoff && (!found || distance < best.DistanceFromSegment-m.config.TieBreakEpsilonMeters) {
					alongSegment := segment.MatchDistanceAlongVector(loc)

					best = SpatialMatch{
						BlockID:               block.ID,
						TripID:                trip.ID,
						TripIndex:             tripIndex,
						StopPathIndex:         stopPathIndex,
						SegmentIndex:          segmentIndex,
						DistanceAlongSegment:  alongSegment,
						DistanceAlongStopPath: priorLength + alongSegment,
						DistanceFromSegment:   distance,
					}
					found = true
				}

				priorLength += segment.Length()
			}
		}
	}

	if !found {
		return SpatialMatch{}, false
	}

	trip, _ := block.Trip(best.TripIndex)
	pathLength := trip.Pattern.StopPaths[best.StopPathIndex].Length()
	best.AtStop = pathLength-best.DistanceAlongStopPath <= m.config.AtStopToleranceMeters

	return best, true
}
