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
	"log"
	"net/http"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/fundihq/fundi/api"
	"github.com/fundihq/fundi/config"
	redis_db "github.com/fundihq/fundi/internal/redis-db"
	"github.com/fundihq/fundi/realtime"
)

// serveTLS starts an HTTPS server with certificates managed by CertMagic.
// Without a configured domain the server falls back to localhost.
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "path/to/certmagic/storage"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTPS server: %v", err)
	}

	return nil
}

// initializeRealtime wires the presence tracker and fan-out hub and attaches
// the hub as the service's event publisher.
func initializeRealtime(ctx context.Context, app *appInstance) (*realtime.Hub, *realtime.Presence, error) {
	redisOption, err := redis_db.ParseRedisURL(app.cnf.Redis.Dns)
	if err != nil {
		return nil, nil, err
	}
	client, err := redis_db.NewRedisClient([]string{redisOption.Addr})
	if err != nil {
		return nil, nil, err
	}

	presence := realtime.NewPresence(client.Client())
	hub := realtime.NewHub(client.Client(), presence)
	app.fundi.SetEventPublisher(hub)

	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("event bridge stopped: %v", err)
		}
	}()

	return hub, presence, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands returns the Cobra command that starts the HTTP and
// websocket server.
func serverCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start fundi server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hub, presence, err := initializeRealtime(ctx, app)
			if err != nil {
				log.Fatal(err)
			}

			router := api.NewAPI(app.fundi, hub, presence).Router()

			if err := startServer(router, app.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
