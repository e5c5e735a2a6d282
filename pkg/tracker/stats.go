package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/transitflow/transitflow/pkg/redis_client"
)

var fixesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "transitflow_avl_fixes_processed_total",
	Help: "AVL fixes consumed, by outcome",
}, []string{"outcome"})

var batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "transitflow_avl_batch_duration_seconds",
	Help:    "Time spent matching one consumer batch",
	Buckets: prometheus.DefBuckets,
})

func recordFixProcessed(outcome string) {
	fixesProcessed.WithLabelValues(outcome).Inc()
}

func recordBatchDuration(duration time.Duration) {
	batchDuration.Observe(duration.Seconds())
}

// StartStatsServer serves prometheus metrics, queue stats and a health
// probe on its own port, separate from the query API.
func StartStatsServer() {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/tracker-stats/overview", func(c *fiber.Ctx) error {
		queues, err := redis_client.QueueConnection.GetOpenQueues()
		if err != nil {
			return err
		}

		stats, err := redis_client.QueueConnection.CollectStats(queues)
		if err != nil {
			return err
		}

		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(fmt.Sprint(stats.GetHtml(c.Query("layout"), c.Query("refresh"))))
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := redis_client.Client.Ping(context.Background()).Err(); err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		}

		return c.SendString("OK")
	})

	log.Info().Msg("Stats server listening on http://localhost:3333")
	if err := app.Listen(":3333"); err != nil {
		log.Fatal().Err(err).Msg("Stats server failed")
	}
}
