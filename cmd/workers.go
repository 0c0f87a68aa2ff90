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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fundihq/fundi"
	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/notification"
	redis_db "github.com/fundihq/fundi/internal/redis-db"
	"github.com/fundihq/fundi/model"
)

// pushTitles maps event names to notification titles. Events without an
// entry fall back to a generic title.
var pushTitles = map[string]string{
	model.EventMessageCreated: "New message",
	model.EventOfferCreated:   "New offer",
	model.EventOfferCountered: "Offer countered",
	model.EventJobCreated:     "Job confirmed",
	model.EventJobUpdated:     "Job update",
}

// processPushNotification delivers a queued fan-out event to the push
// provider. Push delivery is best effort; provider failures are swallowed
// inside SendPush and never retried.
func (app *appInstance) processPushNotification(ctx context.Context, t *asynq.Task) error {
	var event model.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		logrus.Error(err)
		return err
	}

	title, ok := pushTitles[event.Name]
	if !ok {
		title = "Fundi"
	}

	err := notification.SendPush(ctx, &notification.PushPayload{
		UserUUIDs:   event.UserUUIDs,
		ExcludeUUID: event.ExcludeUUID,
		Title:       title,
		Body:        event.Name,
		Data:        event.Payload,
	})
	if err != nil {
		return err
	}

	log.Println(" [*] Push Dispatched", event.Name)
	return nil
}

// processSettlementSweep releases matured locked credits into available
// balance.
func (app *appInstance) processSettlementSweep(ctx context.Context, _ *asynq.Task) error {
	released, err := app.fundi.SettleMaturedLocks(ctx)
	if err != nil {
		return err
	}

	log.Println(" [*] Settlement Sweep Released", released)
	return nil
}

// processPaymentSweep re-drives payments stuck in processing.
func (app *appInstance) processPaymentSweep(ctx context.Context, _ *asynq.Task) error {
	recovered, err := app.fundi.SweepStuckPayments(ctx)
	if err != nil {
		return err
	}

	log.Println(" [*] Payment Sweep Recovered", recovered)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.NotificationQueue] = 3
	queues[cfg.Queue.SettlementQueue] = 1
	queues[cfg.Queue.PaymentSweepQueue] = 1
	return queues
}

func redisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	opt, err := redisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      queues,
	}), nil
}

// initializeScheduler registers the periodic sweeps. The settlement sweep
// runs hourly against the maturation window; the payment sweep runs often
// enough that a stuck payment is retried within one threshold period.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	opt, err := redisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, nil)

	if _, err := scheduler.Register("@every 1h",
		asynq.NewTask(fundi.TaskSettlementSweep, nil),
		asynq.Queue(conf.Queue.SettlementQueue)); err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(fmt.Sprintf("@every %dm", conf.Reconciliation.StuckAfterMin),
		asynq.NewTask(fundi.TaskPaymentSweep, nil),
		asynq.Queue(conf.Queue.PaymentSweepQueue)); err != nil {
		return nil, err
	}

	return scheduler, nil
}

func initializeTaskHandlers(app *appInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(fundi.TaskPushNotification, app.processPushNotification)
	mux.HandleFunc(fundi.TaskSettlementSweep, app.processSettlementSweep)
	mux.HandleFunc(fundi.TaskPaymentSweep, app.processPaymentSweep)
}

// workerCommands defines the "workers" command that runs the queue consumers
// and the periodic sweep scheduler.
func workerCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start fundi workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
