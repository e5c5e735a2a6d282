package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func createIndexes() {
	indexes := map[string][]mongo.IndexModel{
		"blocks": {
			{Keys: bson.D{{Key: "configrev", Value: 1}, {Key: "id", Value: 1}}},
			{Keys: bson.D{{Key: "serviceid", Value: 1}}},
		},
		"service_calendar": {
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		"arrival_departures": {
			{Keys: bson.D{{Key: "vehicleid", Value: 1}, {Key: "time", Value: -1}}},
			{Keys: bson.D{{Key: "stopid", Value: 1}, {Key: "time", Value: -1}}},
		},
		"headways": {
			{Keys: bson.D{{Key: "stopid", Value: 1}, {Key: "creationtime", Value: -1}}},
		},
		"holding_times": {
			{Keys: bson.D{{Key: "vehicleid", Value: 1}, {Key: "creationtime", Value: -1}}},
		},
	}

	for collectionName, models := range indexes {
		_, err := GetCollection(collectionName).Indexes().CreateMany(context.Background(), models)
		if err != nil {
			log.Error().Err(err).Str("collection", collectionName).Msg("Failed to create indexes")
		}
	}
}
