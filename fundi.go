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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/database"
	"github.com/fundihq/fundi/internal/gateway"
	redis_db "github.com/fundihq/fundi/internal/redis-db"
	"github.com/fundihq/fundi/model"
)

// PaymentGateway is the slice of the provider client the core depends on.
// Narrowed to an interface so reconciliation tests can stand in a fake.
type PaymentGateway interface {
	VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error)
	InitiateTransfer(ctx context.Context, transfer gateway.TransferRequest) (*gateway.TransferResult, error)
}

// EventPublisher fans an event out to connected clients. Publishing is best
// effort: a failed broadcast never rolls back the state change it announces.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.Event) error { return nil }

// Fundi is the main struct for the transactional core: offers, payments,
// jobs, wallets and read state, glued to the queue and the realtime fan-out.
type Fundi struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	gateway    PaymentGateway
	events     EventPublisher
}

// NewFundi initializes the core with the provided datasource. It fetches the
// configuration and initializes the Redis client, queue and gateway client.
func NewFundi(db database.IDataSource) (*Fundi, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns})
	if err != nil {
		return nil, err
	}

	return &Fundi{
		queue:      NewQueue(configuration),
		redis:      redisClient.Client(),
		datasource: db,
		gateway:    gateway.NewClient(configuration),
		events:     noopPublisher{},
	}, nil
}

// SetEventPublisher wires the realtime hub in after construction. The hub
// needs the server lifecycle, which outlives this struct's constructor.
func (f *Fundi) SetEventPublisher(events EventPublisher) {
	if events != nil {
		f.events = events
	}
}

func (f *Fundi) publish(ctx context.Context, event model.Event) {
	if err := f.events.Publish(ctx, event); err != nil {
		logrus.Warnf("event publish failed for %s: %v", event.Name, err)
	}
	if event.Push {
		if err := f.queue.EnqueuePush(ctx, event); err != nil {
			logrus.Warnf("push enqueue failed for %s: %v", event.Name, err)
		}
	}
}
