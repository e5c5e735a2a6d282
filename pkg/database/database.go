package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/util"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "transitflow"

func Connect() error {
	connectionString := defaultMongoConnectionString
	dbName := defaultMongoDatabase

	env := util.GetEnvironmentVariables()

	if env["TRANSITFLOW_MONGODB_CONNECTION"] != "" {
		connectionString = env["TRANSITFLOW_MONGODB_CONNECTION"]
	}

	if env["TRANSITFLOW_MONGODB_DATABASE"] != "" {
		dbName = env["TRANSITFLOW_MONGODB_DATABASE"]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	if err := client.Ping(context.Background(), nil); err != nil {
		return err
	}

	createIndexes()

	log.Info().Str("database", dbName).Msg("Connected to MongoDB")

	return nil
}

func GetCollection(collectionName string) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName)
}
