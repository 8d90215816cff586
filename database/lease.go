package database

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/internal/apierror"
)

// AcquireLease attempts to take the label-generation lease on an order. The
// update only lands when the order has no tracking number and the slot is
// free or the previous holder's lease has expired, so exactly one caller can
// win a given slot. Returns false without error when the lease is held.
// Expiry is computed on the database clock, the same one the acquisition
// predicate compares against, so skew between app hosts cannot stretch or
// shrink a TTL.
func (d Datasource) AcquireLease(ctx context.Context, orderID string, lockID string, ttl time.Duration) (bool, error) {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Acquiring label lease")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET lock_holder = $2, lock_expires_at = NOW() + make_interval(secs => $3)
		WHERE order_id = $1
		  AND tracking_number IS NULL
		  AND (lock_holder IS NULL OR lock_expires_at < NOW())
	`, orderID, lockID, ttl.Seconds())
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire lease", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 1 {
		d.invalidateOrder(ctx, orderID)
	}
	return rowsAffected == 1, nil
}

// ReleaseLease clears the lease only when lockID still holds it. A stale
// holder releasing after expiry is a no-op and reports false.
func (d Datasource) ReleaseLease(ctx context.Context, orderID string, lockID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET lock_holder = NULL, lock_expires_at = NULL
		WHERE order_id = $1
		  AND lock_holder = $2
	`, orderID, lockID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release lease", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 1 {
		d.invalidateOrder(ctx, orderID)
	}
	return rowsAffected == 1, nil
}

// ForceReleaseLease clears the lease and retry bookkeeping regardless of the
// holder. Admin recovery path for orders wedged by a crashed worker.
func (d Datasource) ForceReleaseLease(ctx context.Context, orderID string) error {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Force releasing label lease")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET lock_holder = NULL, lock_expires_at = NULL, retry_count = 0, last_retry_at = NULL
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to force release lease", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", orderID), nil)
	}

	d.invalidateOrder(ctx, orderID)
	return nil
}
