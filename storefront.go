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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/internal/circuit"
	"github.com/caterly/storefront/internal/idempotency"
	redis_db "github.com/caterly/storefront/internal/redis-db"
	"github.com/caterly/storefront/internal/retryclass"
)

// Storefront is the main struct for the Caterly ordering core. It wires the
// datasource, task queue, circuit breakers and idempotency key provider
// behind one facade.
type Storefront struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	circuits   *circuit.Registry
	keys       *idempotency.Provider
}

// NewStorefront initializes a new instance of Storefront with the provided
// database datasource. It fetches the configuration and initializes the
// Redis client, task queue, breaker registry and key provider.
func NewStorefront(db database.IDataSource) (*Storefront, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	registry := circuit.NewRegistry(breakerSettings(configuration))
	// Register known dependencies up front so the health endpoint reports
	// them before any traffic.
	registry.Get(databaseDependency)
	registry.Get(paymentDependency)
	registry.Get(shippingDependency)

	newStorefront := &Storefront{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		circuits:   registry,
		keys:       idempotency.NewProvider(),
	}
	return newStorefront, nil
}

const databaseDependency = "database"

// Circuits exposes the breaker registry for the admin and health endpoints.
func (s *Storefront) Circuits() *circuit.Registry {
	return s.circuits
}

// guardDatabase admits or sheds a datasource-backed call. When the database
// breaker is open, callers get a CircuitOpenError instead of piling requests
// onto a dead connection pool.
func (s *Storefront) guardDatabase() (*circuit.Breaker, error) {
	breaker := s.circuits.Get(databaseDependency)
	if !breaker.CanExecute() {
		return nil, breaker.OpenError()
	}
	return breaker, nil
}

// observeDatabase feeds a datasource outcome to the database breaker. Only
// connection-class failures count against it; not-found, conflict and
// lock-wait errors are the database answering, not the database being down.
func (s *Storefront) observeDatabase(breaker *circuit.Breaker, err error) {
	if err == nil {
		breaker.RecordSuccess()
		return
	}
	if retryclass.IsConnectionFailure(err) {
		breaker.RecordFailure(err)
	}
}

// ScheduleStaleSweep enqueues the first stale-order sweep. The sweep handler
// reschedules itself, so this only needs to run once at worker startup.
func (s *Storefront) ScheduleStaleSweep(ctx context.Context, runIn time.Duration) error {
	return s.queue.EnqueueStaleSweep(ctx, runIn)
}

func breakerSettings(configuration *config.Configuration) circuit.Settings {
	return circuit.Settings{
		FailureThreshold: configuration.CircuitBreaker.FailureThreshold,
		FailureWindow:    time.Duration(configuration.CircuitBreaker.FailureWindowSec) * time.Second,
		RecoveryTimeout:  time.Duration(configuration.CircuitBreaker.RecoveryTimeoutSec) * time.Second,
		SuccessThreshold: configuration.CircuitBreaker.SuccessThreshold,
	}
}
