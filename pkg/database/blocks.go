package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/transitflow/transitflow/pkg/routeconfig"
	"go.mongodb.org/mongo-driver/bson"
)

// MongoBlockSource loads route configuration snapshots from the blocks
// collection. It satisfies configcache.BlockSource: Reconnect tears the
// session down and dials again, which is what the cache's single retry
// needs after a dropped connection.
type MongoBlockSource struct{}

func NewMongoBlockSource() *MongoBlockSource {
	return &MongoBlockSource{}
}

func (s *MongoBlockSource) LoadBlocks(ctx context.Context, configRev int) ([]*routeconfig.Block, error) {
	blocksCollection := GetCollection("blocks")

	cursor, err := blocksCollection.Find(ctx, bson.M{"configrev": configRev})
	if err != nil {
		return nil, fmt.Errorf("query blocks for rev %d: %w", configRev, err)
	}
	defer cursor.Close(ctx)

	var blocks []*routeconfig.Block
	for cursor.Next(ctx) {
		var block *routeconfig.Block
		if err := cursor.Decode(&block); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}

		blocks = append(blocks, block)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks for rev %d: %w", configRev, err)
	}

	return blocks, nil
}

func (s *MongoBlockSource) Reconnect(ctx context.Context) error {
	if MongoGlobalInstance != nil {
		MongoGlobalInstance.Client.Disconnect(ctx)
	}

	return Connect()
}

// serviceCalendarRecord is one day's worth of valid service ids.
type serviceCalendarRecord struct {
	Date       string   `bson:"date"`
	ServiceIDs []string `bson:"serviceids"`
}

// MongoServiceCalendar answers service validity from the service_calendar
// collection, memoising per date. Matching consults it three times per fix
// (today, yesterday, tomorrow) from many workers at once, so the memo is
// guarded.
type MongoServiceCalendar struct {
	mutex sync.Mutex
	cache map[string]map[string]bool
}

func NewMongoServiceCalendar() *MongoServiceCalendar {
	return &MongoServiceCalendar{cache: map[string]map[string]bool{}}
}

func (c *MongoServiceCalendar) IsServiceValid(serviceID string, date time.Time) bool {
	day := date.Format("2006-01-02")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	valid, cached := c.cache[day]
	if !cached {
		valid = map[string]bool{}

		var record serviceCalendarRecord
		err := GetCollection("service_calendar").FindOne(context.Background(), bson.M{"date": day}).Decode(&record)
		if err == nil {
			for _, serviceID := range record.ServiceIDs {
				valid[serviceID] = true
			}
		}

		c.cache[day] = valid
	}

	return valid[serviceID]
}
