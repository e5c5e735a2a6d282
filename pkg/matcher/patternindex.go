package matcher

import (
	"math"

	"github.com/tidwall/rtree"
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

// PatternIndex is an R-tree over trip pattern extents, used to throw away
// blocks nowhere near a fix before any per-segment work happens. It is built
// once per config revision and read-only afterwards.
type PatternIndex struct {
	tree rtree.RTree
}

func NewPatternIndex(patterns []*routeconfig.TripPattern) *PatternIndex {
	index := &PatternIndex{}

	for _, pattern := range patterns {
		if pattern.Extent == nil || pattern.Extent.Empty() {
			continue
		}

		index.tree.Insert(
			[2]float64{pattern.Extent.MinLat, pattern.Extent.MinLon},
			[2]float64{pattern.Extent.MaxLat, pattern.Extent.MaxLon},
			pattern,
		)
	}

	return index
}

// PatternIDsNear returns the ids of every pattern whose extent is within
// the given distance in meters of loc. The rectangle search over-selects
// slightly, the extent distance check trims it back.
func (index *PatternIndex) PatternIDsNear(loc geom.Location, meters float64) map[string]bool {
	latSlack := meters / geom.MetersPerDegree
	lonSlack := meters / (geom.MetersPerDegree * math.Cos(loc.Latitude*math.Pi/180))

	near := map[string]bool{}

	index.tree.Search(
		[2]float64{loc.Latitude - latSlack, loc.Longitude - lonSlack},
		[2]float64{loc.Latitude + latSlack, loc.Longitude + lonSlack},
		func(min, max [2]float64, data interface{}) bool {
			pattern, ok := data.(*routeconfig.TripPattern)
			if ok && pattern.Extent.IsWithinDistance(loc, meters) {
				near[pattern.ID] = true
			}
			return true
		},
	)

	return near
}
