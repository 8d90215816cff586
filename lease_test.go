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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/model"
)

// leaseRaceRepo reproduces the conditional-update lease semantics of the
// orders table behind a mutex, so lease behavior can be exercised under real
// goroutine concurrency without a database.
type leaseRaceRepo struct {
	database.IDataSource
	mu    sync.Mutex
	order model.Order
}

func (r *leaseRaceRepo) AcquireLease(_ context.Context, orderID string, lockID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order.OrderID != orderID {
		return false, nil
	}
	if r.order.HasLabel() {
		return false, nil
	}
	if r.order.LockHolder != nil && r.order.LockExpiresAt != nil && r.order.LockExpiresAt.After(time.Now()) {
		return false, nil
	}
	expiresAt := time.Now().Add(ttl)
	r.order.LockHolder = &lockID
	r.order.LockExpiresAt = &expiresAt
	return true, nil
}

func (r *leaseRaceRepo) ReleaseLease(_ context.Context, orderID string, lockID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order.OrderID != orderID || r.order.LockHolder == nil || *r.order.LockHolder != lockID {
		return false, nil
	}
	r.order.LockHolder = nil
	r.order.LockExpiresAt = nil
	return true, nil
}

func (r *leaseRaceRepo) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.order
	return &snapshot, nil
}

func TestAcquireLabelLeaseMutualExclusion(t *testing.T) {
	repo := &leaseRaceRepo{order: model.Order{OrderID: "order_race", CreatedAt: time.Now()}}
	s := newTestStorefront(t, repo)

	const workers = 20
	var wg sync.WaitGroup
	results := make([]*model.LeaseResult, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.AcquireLabelLease(context.Background(), "order_race", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, result := range results {
		require.NotNil(t, result)
		if result.Acquired {
			winners++
			assert.NotEmpty(t, result.LockID)
		} else {
			assert.Contains(t, []string{model.LeaseReasonAlreadyLocked, model.LeaseReasonLostRace}, result.Reason)
		}
	}
	assert.Equal(t, 1, winners, "exactly one acquirer must win the lease")
}

func TestAcquireLabelLeaseExpiredIsFree(t *testing.T) {
	staleHolder := "lock_stale"
	expired := time.Now().Add(-time.Minute)
	repo := &leaseRaceRepo{order: model.Order{
		OrderID:       "order_exp",
		LockHolder:    &staleHolder,
		LockExpiresAt: &expired,
		CreatedAt:     time.Now(),
	}}
	s := newTestStorefront(t, repo)

	result, err := s.AcquireLabelLease(context.Background(), "order_exp", time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Acquired)
	assert.NotEqual(t, staleHolder, result.LockID)
}

func TestAcquireLabelLeaseAlreadyHasLabel(t *testing.T) {
	tracking := "SHIPPO-12345"
	repo := &leaseRaceRepo{order: model.Order{
		OrderID:        "order_done",
		TrackingNumber: &tracking,
		CreatedAt:      time.Now(),
	}}
	s := newTestStorefront(t, repo)

	result, err := s.AcquireLabelLease(context.Background(), "order_done", time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Acquired)
	assert.Equal(t, model.LeaseReasonAlreadyHasLabel, result.Reason)
}

func TestReleaseLabelLeaseWrongHolderIsNoOp(t *testing.T) {
	repo := &leaseRaceRepo{order: model.Order{OrderID: "order_rel", CreatedAt: time.Now()}}
	s := newTestStorefront(t, repo)

	result, err := s.AcquireLabelLease(context.Background(), "order_rel", time.Minute)
	require.NoError(t, err)
	require.True(t, result.Acquired)

	// A stranger's release must not clear the winner's lease.
	s.ReleaseLabelLease(context.Background(), "order_rel", "lock_imposter")
	active, err := s.HasActiveLease(context.Background(), "order_rel")
	require.NoError(t, err)
	assert.True(t, active)

	s.ReleaseLabelLease(context.Background(), "order_rel", result.LockID)
	active, err = s.HasActiveLease(context.Background(), "order_rel")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGetLeaseInfoJudgesExpiryAtReadTime(t *testing.T) {
	holder := "lock_1"
	expired := time.Now().Add(-time.Second)
	repo := &leaseRaceRepo{order: model.Order{
		OrderID:       "order_info",
		LockHolder:    &holder,
		LockExpiresAt: &expired,
		CreatedAt:     time.Now(),
	}}
	s := newTestStorefront(t, repo)

	info, err := s.GetLeaseInfo(context.Background(), "order_info")
	require.NoError(t, err)
	assert.False(t, info.Active, "stored holder with past expiry is not an active lease")
	assert.NotNil(t, info.Holder)
}
