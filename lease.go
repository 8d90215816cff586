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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/model"
)

// AcquireLabelLease attempts to take the label-generation lease on an order.
// The winner gets a fresh lock ID to release with; losers get a reason and,
// when another worker holds the slot, the holder and expiry. Losing the race
// is an expected outcome, not an error.
func (s *Storefront) AcquireLabelLease(ctx context.Context, orderID string, ttl time.Duration) (*model.LeaseResult, error) {
	ctx, span := otel.Tracer("order.lease").Start(ctx, "Acquiring label lease")
	defer span.End()

	if ttl <= 0 {
		ttl = s.defaultLeaseTTL()
	}

	breaker, err := s.guardDatabase()
	if err != nil {
		return nil, err
	}

	lockID := model.GenerateUUIDWithSuffix("lock")
	acquired, err := s.datasource.AcquireLease(ctx, orderID, lockID, ttl)
	s.observeDatabase(breaker, err)
	if err != nil {
		return nil, err
	}
	if acquired {
		return &model.LeaseResult{Acquired: true, LockID: lockID}, nil
	}

	// Zero rows updated. Re-read to tell the caller which guard failed.
	ord, err := s.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case ord.HasLabel():
		return &model.LeaseResult{Reason: model.LeaseReasonAlreadyHasLabel}, nil
	case ord.LockHolder != nil && ord.LockExpiresAt != nil && ord.LockExpiresAt.After(time.Now()):
		return &model.LeaseResult{
			Reason:    model.LeaseReasonAlreadyLocked,
			Holder:    ord.LockHolder,
			ExpiresAt: ord.LockExpiresAt,
		}, nil
	default:
		// The slot was free when we read it back, so another acquirer
		// must have taken and released it between our update and read.
		return &model.LeaseResult{Reason: model.LeaseReasonLostRace}, nil
	}
}

// ReleaseLabelLease clears the lease if lockID still holds it. Cleanup path;
// a lost or expired lease is logged and swallowed.
func (s *Storefront) ReleaseLabelLease(ctx context.Context, orderID string, lockID string) {
	released, err := s.datasource.ReleaseLease(ctx, orderID, lockID)
	if err != nil {
		logrus.Errorf("failed to release lease on order %s: %v", orderID, err)
		return
	}
	if !released {
		logrus.Warnf("lease on order %s no longer held by %s, skipping release", orderID, lockID)
	}
}

// ForceReleaseLease unconditionally clears an order's lease and retry
// bookkeeping. Admin recovery for orders wedged by a crashed worker;
// idempotent.
func (s *Storefront) ForceReleaseLease(ctx context.Context, orderID string) error {
	return s.datasource.ForceReleaseLease(ctx, orderID)
}

// HasActiveLease reports whether the order's lease is held and unexpired.
func (s *Storefront) HasActiveLease(ctx context.Context, orderID string) (bool, error) {
	info, err := s.GetLeaseInfo(ctx, orderID)
	if err != nil {
		return false, err
	}
	return info.Active, nil
}

// GetLeaseInfo returns the order's lease state. Expiry is judged against the
// clock at read time, never trusted from storage.
func (s *Storefront) GetLeaseInfo(ctx context.Context, orderID string) (*model.LeaseInfo, error) {
	ord, err := s.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	info := &model.LeaseInfo{Holder: ord.LockHolder, ExpiresAt: ord.LockExpiresAt}
	info.Active = ord.LockHolder != nil && ord.LockExpiresAt != nil && ord.LockExpiresAt.After(time.Now())
	return info, nil
}

func (s *Storefront) defaultLeaseTTL() time.Duration {
	cfg, err := config.Fetch()
	if err != nil {
		return 2 * time.Minute
	}
	return time.Duration(cfg.Lease.DefaultTTLSeconds) * time.Second
}
