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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/caterly/storefront/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	order   // Interface for order persistence and queries
	lease   // Interface for the label-lease conditional updates
	rowlock // Interface for pessimistic row-lock critical sections
}

// order defines methods for handling orders.
type order interface {
	RecordOrder(ctx context.Context, ord *model.Order) (*model.Order, error)                         // Records a new order with its line items
	GetOrder(ctx context.Context, id string) (*model.Order, error)                                   // Retrieves an order by ID, items included
	GetPendingOrdersByCustomer(ctx context.Context, customerID string, since time.Time) ([]*model.Order, error) // Pending/failed-payment orders for a customer inside the window
	GetPendingOrdersByEmail(ctx context.Context, email string, since time.Time) ([]*model.Order, error)         // Same window scoped by email when no customer id exists
	UpdateOrderStatus(ctx context.Context, id string, status string) error                           // Updates the status of an order
	SetPaymentURL(ctx context.Context, id string, url string, expiresAt time.Time) error             // Stores the checkout URL handed to the customer
	SetTrackingNumber(ctx context.Context, id string, trackingNumber string) error                   // Marks the label operation complete
	CancelStaleOrders(ctx context.Context, olderThan time.Time, reason string) (int64, error)        // Auto-cancels pending/failed orders past the cutoff
}

// lease defines the conditional-update operations behind the label lease.
// These are the only writes allowed to touch lock_holder/lock_expires_at.
type lease interface {
	AcquireLease(ctx context.Context, orderID string, lockID string, ttl time.Duration) (bool, error) // Atomic acquire; false means a competitor holds it
	ReleaseLease(ctx context.Context, orderID string, lockID string) (bool, error)                    // Holder-checked clear; false means the holder no longer matches
	ForceReleaseLease(ctx context.Context, orderID string) error                                      // Unconditional clear plus retry-counter reset
}

// rowlock defines short transactional critical sections over SELECT ... FOR UPDATE.
type rowlock interface {
	WithOrderLock(ctx context.Context, orderID string, opts LockOptions, fn func(tx *sql.Tx, ord *model.Order) error) error     // Locks one row and runs fn inside the transaction
	WithOrderLocks(ctx context.Context, orderIDs []string, opts LockOptions, fn func(tx *sql.Tx, ords []*model.Order) error) error // Locks a set of rows in one transaction
	MarkOrderPaidTx(tx *sql.Tx, orderID string) error                                                                           // Payment capture write, valid only inside a lock callback
	RecordPaymentFailureTx(tx *sql.Tx, orderID string) error                                                                    // Failed attempt write, valid only inside a lock callback
}
