package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/model"
)

// MockDataSource is a testify mock of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

func (m *MockDataSource) RecordOrder(ctx context.Context, ord *model.Order) (*model.Order, error) {
	args := m.Called(ctx, ord)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) GetPendingOrdersByCustomer(ctx context.Context, customerID string, since time.Time) ([]*model.Order, error) {
	args := m.Called(ctx, customerID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockDataSource) GetPendingOrdersByEmail(ctx context.Context, email string, since time.Time) ([]*model.Order, error) {
	args := m.Called(ctx, email, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Order), args.Error(1)
}

func (m *MockDataSource) UpdateOrderStatus(ctx context.Context, id string, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) SetPaymentURL(ctx context.Context, id string, url string, expiresAt time.Time) error {
	args := m.Called(ctx, id, url, expiresAt)
	return args.Error(0)
}

func (m *MockDataSource) SetTrackingNumber(ctx context.Context, id string, trackingNumber string) error {
	args := m.Called(ctx, id, trackingNumber)
	return args.Error(0)
}

func (m *MockDataSource) CancelStaleOrders(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	args := m.Called(ctx, olderThan, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) AcquireLease(ctx context.Context, orderID string, lockID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, orderID, lockID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ReleaseLease(ctx context.Context, orderID string, lockID string) (bool, error) {
	args := m.Called(ctx, orderID, lockID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ForceReleaseLease(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockDataSource) WithOrderLock(ctx context.Context, orderID string, opts database.LockOptions, fn func(tx *sql.Tx, ord *model.Order) error) error {
	args := m.Called(ctx, orderID, opts, fn)
	return args.Error(0)
}

func (m *MockDataSource) WithOrderLocks(ctx context.Context, orderIDs []string, opts database.LockOptions, fn func(tx *sql.Tx, orders []*model.Order) error) error {
	args := m.Called(ctx, orderIDs, opts, fn)
	return args.Error(0)
}

func (m *MockDataSource) MarkOrderPaidTx(tx *sql.Tx, orderID string) error {
	args := m.Called(tx, orderID)
	return args.Error(0)
}

func (m *MockDataSource) RecordPaymentFailureTx(tx *sql.Tx, orderID string) error {
	args := m.Called(tx, orderID)
	return args.Error(0)
}
