package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/transitflow/transitflow/pkg/redis_client"
)

// Fixes for one vehicle must be matched in order, so the queue is
// partitioned by vehicle id: every fix for a vehicle lands on the same
// partition, and each partition has exactly one consumer. Ordering within
// a vehicle is then free; vehicles on different partitions run in parallel.
const NumPartitions = 8

const batchSize = 200
const pollDuration = 1 * time.Second

func PartitionQueueName(partition int) string {
	return fmt.Sprintf("avl-queue-%d", partition)
}

// PartitionFor maps a vehicle id to its queue partition.
func PartitionFor(vehicleID string) int {
	hash := fnv.New32a()
	hash.Write([]byte(vehicleID))

	return int(hash.Sum32() % NumPartitions)
}

// PublishAvlReport places a fix on its vehicle's partition queue.
func PublishAvlReport(report AvlReport) error {
	queue, err := redis_client.QueueConnection.OpenQueue(PartitionQueueName(PartitionFor(report.VehicleID)))
	if err != nil {
		return err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return queue.PublishBytes(payload)
}

// StartConsumers opens every partition queue and attaches one batch
// consumer to each.
func StartConsumers(engine *Engine) {
	log.Info().Int("partitions", NumPartitions).Msg("Starting AVL consumers")

	var waitGroup conc.WaitGroup

	for partition := 0; partition < NumPartitions; partition++ {
		partition := partition

		waitGroup.Go(func() {
			queue, err := redis_client.QueueConnection.OpenQueue(PartitionQueueName(partition))
			if err != nil {
				log.Fatal().Err(err).Int("partition", partition).Msg("Failed to open AVL queue")
			}

			if err := queue.StartConsuming(batchSize+1, pollDuration); err != nil {
				log.Fatal().Err(err).Int("partition", partition).Msg("Failed to start consuming AVL queue")
			}

			consumerName := fmt.Sprintf("avl-consumer-%d", partition)
			if _, err := queue.AddBatchConsumer(consumerName, batchSize, 2*time.Second, NewBatchConsumer(engine, partition)); err != nil {
				log.Fatal().Err(err).Int("partition", partition).Msg("Failed to attach AVL batch consumer")
			}
		})
	}

	waitGroup.Wait()
}

type BatchConsumer struct {
	engine    *Engine
	partition int
}

func NewBatchConsumer(engine *Engine, partition int) *BatchConsumer {
	return &BatchConsumer{engine: engine, partition: partition}
}

// Consume matches a batch of fixes sequentially. Sequential is the point:
// within a partition order is the per-vehicle ordering guarantee.
func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	startTime := time.Now()
	matched := 0

	for _, payload := range batch.Payloads() {
		var report AvlReport
		if err := json.Unmarshal([]byte(payload), &report); err != nil {
			log.Error().Err(err).Int("partition", consumer.partition).Msg("Failed to unmarshal AVL report")
			recordFixProcessed("unparseable")
			continue
		}

		_, err := consumer.engine.Match(context.Background(), report)
		switch {
		case err == nil:
			matched++
			recordFixProcessed("matched")
		default:
			recordFixProcessed("unmatched")
		}
	}

	recordBatchDuration(time.Since(startTime))

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Error().Err(err).Int("partition", consumer.partition).Msg("Failed to ack AVL batch")
		}
	}

	log.Debug().Int("partition", consumer.partition).Int("batch", len(batch)).Int("matched", matched).Str("Time", time.Since(startTime).String()).Msg("Processed AVL batch")
}
