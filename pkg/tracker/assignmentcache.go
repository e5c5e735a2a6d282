package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/transitflow/transitflow/pkg/redis_client"
)

// Assignment is the cached vehicle to block mapping. It outlives an engine
// restart so vehicles do not all go unpredictable while their feeds omit
// the block reference.
type Assignment struct {
	BlockID     string    `json:"block_id"`
	ConfigRev   int       `json:"config_rev"`
	LastUpdated time.Time `json:"last_updated"`
}

func (a Assignment) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

type AssignmentCache struct {
	cache *cache.Cache[string]
}

// NewAssignmentCache builds the redis-backed assignment cache. Entries
// expire on their own: a vehicle silent for the expiry window has to earn
// its assignment again.
func NewAssignmentCache(expiry time.Duration) *AssignmentCache {
	redisStore := redisstore.NewRedis(redis_client.Client, store.WithExpiration(expiry))

	return &AssignmentCache{cache: cache.New[string](redisStore)}
}

func (c *AssignmentCache) Store(ctx context.Context, vehicleID string, blockID string, configRev int, at time.Time) {
	assignment, _ := json.Marshal(Assignment{
		BlockID:     blockID,
		ConfigRev:   configRev,
		LastUpdated: at,
	})

	c.cache.Set(ctx, cacheKey(vehicleID), string(assignment))
}

func (c *AssignmentCache) Lookup(ctx context.Context, vehicleID string) (Assignment, bool) {
	cached, err := c.cache.Get(ctx, cacheKey(vehicleID))
	if err != nil || cached == "" {
		return Assignment{}, false
	}

	var assignment Assignment
	if err := json.Unmarshal([]byte(cached), &assignment); err != nil {
		return Assignment{}, false
	}

	return assignment, true
}

func (c *AssignmentCache) Forget(ctx context.Context, vehicleID string) {
	c.cache.Delete(ctx, cacheKey(vehicleID))
}

func cacheKey(vehicleID string) string {
	return fmt.Sprintf("vehicle_assignment:%s", vehicleID)
}
