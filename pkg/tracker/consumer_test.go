package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionForIsStable(t *testing.T) {
	for _, vehicleID := range []string{"vehicle-1", "vehicle-2", "bus 4012", ""} {
		partition := PartitionFor(vehicleID)

		assert.GreaterOrEqual(t, partition, 0)
		assert.Less(t, partition, NumPartitions)

		// Same vehicle always lands on the same partition; this is the whole
		// per-vehicle ordering guarantee.
		assert.Equal(t, partition, PartitionFor(vehicleID))
	}
}

func TestPartitionQueueName(t *testing.T) {
	assert.Equal(t, "avl-queue-0", PartitionQueueName(0))
	assert.Equal(t, "avl-queue-7", PartitionQueueName(7))
}

func TestAvlReportValidate(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

	valid := AvlReport{VehicleID: "vehicle-1", Time: now, Latitude: 45, Longitude: -122}
	assert.NoError(t, valid.Validate(now))

	missingVehicle := valid
	missingVehicle.VehicleID = ""
	assert.Error(t, missingVehicle.Validate(now))

	nullIsland := valid
	nullIsland.Latitude = 0
	nullIsland.Longitude = 0
	assert.Error(t, nullIsland.Validate(now))

	outOfRange := valid
	outOfRange.Latitude = 95
	assert.Error(t, outOfRange.Validate(now))

	tooFast := valid
	speed := 80.0
	tooFast.Speed = &speed
	assert.Error(t, tooFast.Validate(now))

	plausibleSpeed := valid
	cruising := 20.0
	plausibleSpeed.Speed = &cruising
	assert.NoError(t, plausibleSpeed.Validate(now))

	future := valid
	future.Time = now.Add(10 * time.Minute)
	assert.Error(t, future.Validate(now))

	slightlyAhead := valid
	slightlyAhead.Time = now.Add(2 * time.Minute)
	assert.NoError(t, slightlyAhead.Validate(now), "small clock skew is tolerated")

	stale := valid
	stale.Time = now.Add(-25 * time.Hour)
	assert.Error(t, stale.Validate(now))
}

func TestVehicleStateSnapshot(t *testing.T) {
	state := &VehicleState{
		VehicleID:   "vehicle-1",
		BlockID:     "block-1",
		Predictable: true,
		LastFixTime: time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC),
	}

	snapshot := state.Snapshot()
	require.Equal(t, "vehicle-1", snapshot.VehicleID)
	assert.Equal(t, "block-1", snapshot.BlockID)
	assert.True(t, snapshot.Predictable)
	assert.Nil(t, snapshot.LastMatch)
}
