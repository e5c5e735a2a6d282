package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/database"
	"github.com/transitflow/transitflow/pkg/elastic_client"
	"github.com/transitflow/transitflow/pkg/events"
	"go.mongodb.org/mongo-driver/mongo"
)

// EventSink receives the records a match produced. Calls are fire and
// forget from the engine's perspective: a sink that fails logs and drops,
// it never stalls matching.
type EventSink interface {
	PublishGenerated(ctx context.Context, generated events.Generated)
	PublishVehicleEvent(ctx context.Context, event events.VehicleEvent)
}

// MongoEventSink bulk writes event records into their collections.
type MongoEventSink struct{}

func NewMongoEventSink() *MongoEventSink {
	return &MongoEventSink{}
}

func (s *MongoEventSink) PublishGenerated(ctx context.Context, generated events.Generated) {
	s.bulkInsert(ctx, "arrival_departures", toWriteModels(generated.ArrivalDepartures))
	s.bulkInsert(ctx, "headways", toWriteModels(generated.Headways))
	s.bulkInsert(ctx, "holding_times", toWriteModels(generated.HoldingTimes))
}

func (s *MongoEventSink) PublishVehicleEvent(ctx context.Context, event events.VehicleEvent) {
	s.bulkInsert(ctx, "vehicle_events", []mongo.WriteModel{
		mongo.NewInsertOneModel().SetDocument(event),
	})
}

func (s *MongoEventSink) bulkInsert(ctx context.Context, collectionName string, operations []mongo.WriteModel) {
	if len(operations) == 0 {
		return
	}

	startTime := time.Now()
	_, err := database.GetCollection(collectionName).BulkWrite(ctx, operations)
	if err != nil {
		log.Error().Err(err).Str("collection", collectionName).Msg("Failed to bulk write events")
		return
	}

	log.Debug().Int("Length", len(operations)).Str("Time", time.Since(startTime).String()).Str("collection", collectionName).Msg("Bulk write")
}

func toWriteModels[T any](records []T) []mongo.WriteModel {
	operations := make([]mongo.WriteModel, 0, len(records))
	for _, record := range records {
		operations = append(operations, mongo.NewInsertOneModel().SetDocument(record))
	}

	return operations
}

// matchElasticEvent is the per-fix diagnostic record indexed into
// Elasticsearch for the identification dashboards.
type matchElasticEvent struct {
	Timestamp time.Time

	Success    bool
	FailReason string

	VehicleID string
	BlockID   string
	TripID    string

	Source string
}

func indexMatchEvent(event matchElasticEvent) {
	yearNumber, weekNumber := event.Timestamp.ISOWeek()
	indexName := fmt.Sprintf("transitflow-match-events-%d-%d", yearNumber, weekNumber)

	body, _ := json.Marshal(event)
	elastic_client.IndexRequest(indexName, bytes.NewReader(body))
}
