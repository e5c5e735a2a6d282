package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/transitflow/transitflow/pkg/geom"
	"github.com/transitflow/transitflow/pkg/routeconfig"
)

func TestPatternIndex(t *testing.T) {
	near := routeconfig.NewTripPattern("route-9", "shape-near", []*routeconfig.StopPath{
		{StopID: "stop-a", Segments: []geom.Vector{geom.NewVector(locAt(0, 0), locAt(0, 500))}},
	})
	far := routeconfig.NewTripPattern("route-9", "shape-far", []*routeconfig.StopPath{
		{StopID: "stop-z", Segments: []geom.Vector{geom.NewVector(locAt(50000, 0), locAt(50000, 500))}},
	})

	index := NewPatternIndex([]*routeconfig.TripPattern{near, far, {ID: "no-extent"}})

	ids := index.PatternIDsNear(locAt(30, 250), 100)
	assert.True(t, ids[near.ID])
	assert.False(t, ids[far.ID])

	assert.Empty(t, index.PatternIDsNear(locAt(25000, 250), 100))
}
