/*
Copyright 2024 Fundi Authors.

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

package fundi

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/fundihq/fundi/config"
	redis_db "github.com/fundihq/fundi/internal/redis-db"
	"github.com/fundihq/fundi/model"
)

// Task type names consumed by the worker process.
const (
	TaskPushNotification = "notification:push"
	TaskSettlementSweep  = "settlement:sweep"
	TaskPaymentSweep     = "payment:sweep"
)

// Queue wraps the asynq client used to hand work to the worker process.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a Queue from the configured Redis address.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}
}

// EnqueuePush queues a push-notification task for an event. Delivery happens
// off the request path; the worker calls the push provider.
func (q *Queue) EnqueuePush(ctx context.Context, event model.Event) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskPushNotification, payload)
	_, err = q.Client.EnqueueContext(ctx, task, asynq.Queue(cfg.Queue.NotificationQueue))
	return err
}
