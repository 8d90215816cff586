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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/config"
	redlock "github.com/caterly/storefront/internal/lock"
	"github.com/caterly/storefront/model"
)

// OrderIdentity identifies the customer placing an order. CustomerID is
// preferred; Email is the fallback for guest checkouts.
type OrderIdentity struct {
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// DuplicateCheckResult is the outcome of a duplicate-order probe. When
// HasPendingOrder is set, ExistingOrder carries the payment URL and retry
// state the caller needs to resume instead of re-creating.
type DuplicateCheckResult struct {
	HasPendingOrder bool         `json:"has_pending_order"`
	ExistingOrder   *model.Order `json:"existing_order,omitempty"`
}

// CheckDuplicateOrder looks for a recent pending order from the same
// customer with an identical cart. Identical means the same multiset of
// (product, variant) line items with the same quantities; item order and
// pricing do not matter.
func (s *Storefront) CheckDuplicateOrder(ctx context.Context, ident OrderIdentity, cart []model.CartItem) (*DuplicateCheckResult, error) {
	ctx, span := otel.Tracer("order.duplicate").Start(ctx, "Checking for duplicate pending order")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	since := time.Now().Add(-time.Duration(cfg.Orders.DuplicateWindowHours) * time.Hour)

	var candidates []*model.Order
	switch {
	case ident.CustomerID != "":
		candidates, err = s.datasource.GetPendingOrdersByCustomer(ctx, ident.CustomerID, since)
	case ident.Email != "":
		candidates, err = s.datasource.GetPendingOrdersByEmail(ctx, ident.Email, since)
	default:
		// Anonymous checkout carries no identity to dedupe on.
		return &DuplicateCheckResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	want := cartKeyCounts(cart)
	for _, candidate := range candidates {
		if sameItemCounts(want, orderKeyCounts(candidate.Items)) {
			return &DuplicateCheckResult{HasPendingOrder: true, ExistingOrder: candidate}, nil
		}
	}
	return &DuplicateCheckResult{}, nil
}

// CancelStaleOrders sweeps pending orders older than the configured cutoff
// into CANCELLED so they stop matching as duplicates.
func (s *Storefront) CancelStaleOrders(ctx context.Context) (int64, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	olderThan := time.Now().AddDate(0, 0, -cfg.Orders.StaleAfterDays)
	return s.datasource.CancelStaleOrders(ctx, olderThan, model.CancellationReasonStale)
}

// ProcessStaleSweep is the asynq handler for the scheduled stale-order
// sweep. The sweep reschedules itself so the cadence survives worker
// restarts. A redis lock keeps concurrent workers from running the sweep
// twice.
func (s *Storefront) ProcessStaleSweep(ctx context.Context, _ *asynq.Task) error {
	locker := redlock.NewLocker(s.redis, "stale-order-sweep", model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, 10*time.Minute); err != nil {
		logrus.Infof("stale sweep already running elsewhere: %v", err)
		return nil
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error(err)
		}
	}(locker, ctx)

	count, err := s.CancelStaleOrders(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		logrus.Infof("cancelled %d stale pending orders", count)
	}
	if err := s.queue.EnqueueStaleSweep(ctx, 24*time.Hour); err != nil {
		logrus.Errorf("failed to reschedule stale sweep: %v", err)
	}
	return nil
}

func cartKeyCounts(items []model.CartItem) map[string]int {
	counts := make(map[string]int, len(items))
	for _, item := range items {
		counts[model.ItemKey(item.ProductID, item.VariantID)] += item.Quantity
	}
	return counts
}

func orderKeyCounts(items []model.OrderItem) map[string]int {
	counts := make(map[string]int, len(items))
	for _, item := range items {
		counts[model.ItemKey(item.ProductID, item.VariantID)] += item.Quantity
	}
	return counts
}

func sameItemCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for key, count := range a {
		if b[key] != count {
			return false
		}
	}
	return true
}
