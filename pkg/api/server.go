package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/database"
	"github.com/transitflow/transitflow/pkg/events"
	"github.com/transitflow/transitflow/pkg/tracker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Server is the engine's thin query surface. It rides in the tracker
// process because vehicle state lives in engine memory; everything
// historical comes out of the event collections.
type Server struct {
	engine *tracker.Engine
	app    *fiber.App
}

func NewServer(engine *tracker.Engine) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(NewLogger())

	server := &Server{engine: engine, app: app}

	app.Get("/core/vehicles/:identifier", server.getVehicle)
	app.Get("/core/blocks/:identifier/trips", server.getActiveTrips)
	app.Get("/core/stops/:identifier/arrivaldepartures", server.getStopArrivalDepartures)
	app.Get("/core/routes/:route/stops/:stop/headway", server.getStopHeadway)

	return server
}

func (server *Server) Start(listen string) {
	log.Info().Msgf("Query API listening on %s", listen)
	if err := server.app.Listen(listen); err != nil {
		log.Fatal().Err(err).Msg("Query API failed")
	}
}

func (server *Server) getVehicle(c *fiber.Ctx) error {
	snapshot, found := server.engine.VehicleState(c.Params("identifier"))
	if !found {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"error": "Vehicle is not being tracked"})
	}

	return c.JSON(snapshot)
}

func (server *Server) getActiveTrips(c *fiber.Ctx) error {
	at := time.Now()
	if timeParam := c.Query("time"); timeParam != "" {
		parsed, err := time.Parse(time.RFC3339, timeParam)
		if err != nil {
			c.SendStatus(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{"error": "time must be RFC3339"})
		}
		at = parsed
	}

	configRev, _ := strconv.Atoi(c.Query("configrev", "0"))

	tripIDs, err := server.engine.ActiveTrips(c.Context(), configRev, c.Params("identifier"), at)
	if err != nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"block": c.Params("identifier"), "trips": tripIDs})
}

func (server *Server) getStopHeadway(c *fiber.Ctx) error {
	vehicleID, departure, found := server.engine.Headways().LastDeparture(c.Params("route"), c.Params("stop"))
	if !found {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"error": "No departures recorded at stop"})
	}

	return c.JSON(fiber.Map{
		"route":          c.Params("route"),
		"stop":           c.Params("stop"),
		"last_vehicle":   vehicleID,
		"last_departure": departure,
	})
}

func (server *Server) getStopArrivalDepartures(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	cursor, err := database.GetCollection("arrival_departures").Find(
		c.Context(),
		bson.M{"stopid": c.Params("identifier")},
		options.Find().SetSort(bson.M{"time": -1}).SetLimit(int64(limit)),
	)
	if err != nil {
		return err
	}
	defer cursor.Close(c.Context())

	records := []*events.ArrivalDeparture{}
	if err := cursor.All(c.Context(), &records); err != nil {
		return err
	}

	return c.JSON(records)
}
