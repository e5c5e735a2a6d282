package matcher

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

const baseLat = 45.0
const baseLon = -122.0

func locAt(northMeters float64, eastMeters float64) geom.Location {
	lonScale := geom.MetersPerDegree * math.Cos(baseLat*math.Pi/180)

	return geom.Location{
		Latitude:  baseLat + northMeters/geom.MetersPerDegree,
		Longitude: baseLon + eastMeters/lonScale,
	}
}

// eastboundBlock is a single trip running due east: stop path one is a single
// 80m segment to stop-a, stop path two is an 80m and a 100m segment to
// stop-b.
func eastboundBlock() *routeconfig.Block {
	pattern := routeconfig.NewTripPattern("route-9", "shape-1", []*routeconfig.StopPath{
		{
			StopID:   "stop-a",
			Segments: []geom.Vector{geom.NewVector(locAt(0, 0), locAt(0, 80))},
		},
		{
			StopID: "stop-b",
			Segments: []geom.Vector{
				geom.NewVector(locAt(0, 80), locAt(0, 160)),
				geom.NewVector(locAt(0, 160), locAt(0, 260)),
			},
		},
	})

	return &routeconfig.Block{
		ID:        "block-1",
		ServiceID: "weekday",
		Trips: []*routeconfig.Trip{
			{ID: "trip-1", RouteID: "route-9", Pattern: pattern, StartTime: 8 * 3600, EndTime: 9 * 3600},
		},
	}
}

func TestSpatialMatchDistanceAlongStopPath(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	// 190m east of the path origin is 30m into the second stop path's second
	// segment, so 110m along that stop path, 10m off the line.
	match, ok := matcher.Match(block, []int{0}, locAt(10, 190))
	require.True(t, ok)

	assert.Equal(t, "block-1", match.BlockID)
	assert.Equal(t, "trip-1", match.TripID)
	assert.Equal(t, 1, match.StopPathIndex)
	assert.Equal(t, 1, match.SegmentIndex)
	assert.InDelta(t, 30, match.DistanceAlongSegment, 0.5)
	assert.InDelta(t, 110, match.DistanceAlongStopPath, 0.5)
	assert.InDelta(t, 10, match.DistanceFromSegment, 0.5)
	assert.False(t, match.AtStop)
}

func TestSpatialMatchIdempotent(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()
	fix := locAt(10, 190)

	first, ok := matcher.Match(block, []int{0}, fix)
	require.True(t, ok)
	second, ok := matcher.Match(block, []int{0}, fix)
	require.True(t, ok)

	assert.Equal(t, first, second)
}

func TestSpatialMatchCutoff(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	// 70m off the line with a 60m cutoff: no match at all.
	_, ok := matcher.Match(block, []int{0}, locAt(70, 40))
	assert.False(t, ok)

	// A per-path override widens the cutoff for just that path.
	block.Trips[0].Pattern.StopPaths[0].MaxDistanceFromSegment = 100
	match, ok := matcher.Match(block, []int{0}, locAt(70, 40))
	require.True(t, ok)
	assert.Equal(t, 0, match.StopPathIndex)
}

func TestSpatialMatchWideOverrideBeyondExtent(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	// A straight path leaves the pattern's bounding box razor thin, so the
	// extent pre-filter must widen by the per-path override rather than the
	// 60m default or this fix would vanish before the segment scan runs.
	block.Trips[0].Pattern.StopPaths[0].MaxDistanceFromSegment = 500

	match, ok := matcher.Match(block, []int{0}, locAt(200, 40))
	require.True(t, ok)
	assert.Equal(t, 0, match.StopPathIndex)
	assert.InDelta(t, 200, match.DistanceFromSegment, 0.5)
}

func TestSpatialMatchTieBreak(t *testing.T) {
	// Both stop paths share a segment endpoint; a fix equidistant from the
	// end of the first and the start of the second must land on the earlier
	// index so progress never runs backwards.
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	match, ok := matcher.Match(block, []int{0}, locAt(5, 80))
	require.True(t, ok)
	assert.Equal(t, 0, match.StopPathIndex)
	assert.Equal(t, 0, match.SegmentIndex)
}

func TestSpatialMatchAtStop(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	// 20m short of stop-b, inside the 25m at-stop tolerance.
	match, ok := matcher.Match(block, []int{0}, locAt(0, 240))
	require.True(t, ok)
	assert.Equal(t, 1, match.StopPathIndex)
	assert.True(t, match.AtStop)

	// 40m short is travelling, not at the stop.
	match, ok = matcher.Match(block, []int{0}, locAt(0, 220))
	require.True(t, ok)
	assert.False(t, match.AtStop)
}

func TestSpatialMatchMalformedCandidates(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())

	block := &routeconfig.Block{
		ID: "block-1",
		Trips: []*routeconfig.Trip{
			{ID: "no-pattern"},
			{ID: "empty-pattern", Pattern: &routeconfig.TripPattern{}},
		},
	}

	// Malformed trips fail closed: no panic, no match.
	_, ok := matcher.Match(block, []int{0, 1, 7}, locAt(0, 0))
	assert.False(t, ok)
}

func TestSpatialMatchExtentPrefilter(t *testing.T) {
	matcher := NewSpatialMatcher(DefaultConfig())
	block := eastboundBlock()

	// A fix kilometers away is rejected by the extent before any segment
	// arithmetic happens.
	_, ok := matcher.Match(block, []int{0}, locAt(50000, 50000))
	assert.False(t, ok)
}
