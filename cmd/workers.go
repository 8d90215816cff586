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

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/caterly/storefront"
	"github.com/caterly/storefront/config"
	redis_db "github.com/caterly/storefront/internal/redis-db"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.LabelQueue] = 3
	queues[cfg.Queue.StaleSweepQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *storefrontInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, storefront.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.LabelQueue, b.storefront.ProcessLabelTask)
	mux.HandleFunc(cfg.Queue.StaleSweepQueue, b.storefront.ProcessStaleSweep)
}

// workerCommands defines the "workers" command. The workers drain the
// webhook, shipping-label and stale-sweep queues.
func workerCommands(b *storefrontInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start storefront workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Seed the sweep cycle. The handler reschedules itself after
			// each run.
			if err := b.storefront.ScheduleStaleSweep(ctx, time.Minute); err != nil {
				log.Printf("Error scheduling stale sweep: %v", err)
			}

			if err := srv.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
