/*
Copyright 2025 Caterly Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/config"
	redis_db "github.com/caterly/storefront/internal/redis-db"
)

// Queue wraps the asynq client used for webhook delivery, label generation
// and the stale-order sweep.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// LabelTaskPayload is the payload for a queued label-generation task.
type LabelTaskPayload struct {
	OrderID string `json:"order_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueLabelGeneration queues a label-generation task for an order. The
// task ID is the order ID, so a second enqueue while one is pending is
// deduplicated by asynq rather than producing a second label attempt.
func (q *Queue) EnqueueLabelGeneration(ctx context.Context, orderID string) error {
	ctx, span := otel.Tracer("order.queue").Start(ctx, "Adding label task to queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(LabelTaskPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(orderID),
		asynq.Queue(cfg.Queue.LabelQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.LabelQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf(" [*] Label task already queued for order: %s", orderID)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued label generation: %s", orderID)
	return nil
}

// EnqueueStaleSweep schedules the next stale-order sweep.
func (q *Queue) EnqueueStaleSweep(ctx context.Context, runIn time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.StaleSweepQueue),
		asynq.ProcessIn(runIn),
	}
	task := asynq.NewTask(cfg.Queue.StaleSweepQueue, nil, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetLabelTaskFromQueue retrieves a pending label task by order ID. Returns
// nil when no task is queued.
func (q *Queue) GetLabelTaskFromQueue(orderID string) (*LabelTaskPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.LabelQueue, orderID)
	if err != nil || task == nil {
		return nil, nil
	}
	var payload LabelTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
