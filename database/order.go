package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/internal/apierror"
	"github.com/caterly/storefront/model"
)

const orderColumns = `order_id, customer_id, email, total_amount, currency, status, payment_status,
		payment_url, payment_expires_at, retry_count, last_retry_at,
		lock_holder, lock_expires_at, tracking_number, cancellation_reason, created_at, meta_data`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	ord := &model.Order{}
	var (
		customerID         sql.NullString
		email              sql.NullString
		paymentURL         sql.NullString
		paymentExpiresAt   sql.NullTime
		lastRetryAt        sql.NullTime
		lockHolder         sql.NullString
		lockExpiresAt      sql.NullTime
		trackingNumber     sql.NullString
		cancellationReason sql.NullString
		metaDataJSON       []byte
	)

	err := row.Scan(
		&ord.OrderID, &customerID, &email, &ord.TotalAmount, &ord.Currency, &ord.Status, &ord.PaymentStatus,
		&paymentURL, &paymentExpiresAt, &ord.RetryCount, &lastRetryAt,
		&lockHolder, &lockExpiresAt, &trackingNumber, &cancellationReason, &ord.CreatedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	ord.CustomerID = customerID.String
	ord.Email = email.String
	ord.PaymentURL = paymentURL.String
	ord.CancellationReason = cancellationReason.String
	if paymentExpiresAt.Valid {
		at := paymentExpiresAt.Time
		ord.PaymentExpiresAt = &at
	}
	if lastRetryAt.Valid {
		at := lastRetryAt.Time
		ord.LastRetryAt = &at
	}
	if lockHolder.Valid {
		holder := lockHolder.String
		ord.LockHolder = &holder
	}
	if lockExpiresAt.Valid {
		at := lockExpiresAt.Time
		ord.LockExpiresAt = &at
	}
	if trackingNumber.Valid {
		tracking := trackingNumber.String
		ord.TrackingNumber = &tracking
	}

	if len(metaDataJSON) > 0 {
		err = json.Unmarshal(metaDataJSON, &ord.MetaData)
		if err != nil {
			return nil, err
		}
	}
	return ord, nil
}

func (d Datasource) RecordOrder(ctx context.Context, ord *model.Order) (*model.Order, error) {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Saving order to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(ord.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to open transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders(order_id, customer_id, email, total_amount, currency, status, payment_status, payment_url, retry_count, created_at, meta_data)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ord.OrderID, nullable(ord.CustomerID), nullable(ord.Email), ord.TotalAmount, ord.Currency,
		ord.Status, ord.PaymentStatus, nullable(ord.PaymentURL), ord.RetryCount, ord.CreatedAt, metaDataJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record order", err)
	}

	for i := range ord.Items {
		item := &ord.Items[i]
		item.OrderID = ord.OrderID
		item.VariantID = model.NormalizeVariant(item.VariantID)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items(order_id, product_id, variant_id, quantity, unit_price) VALUES ($1,$2,$3,$4,$5)`,
			item.OrderID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit order", err)
	}
	return ord, nil
}

func (d Datasource) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if d.Cache != nil {
		cached := &model.Order{}
		if err := d.Cache.Get(ctx, "orders:"+id, cached); err == nil && cached.OrderID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_id = $1
	`, id)

	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	items, err := d.getOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	ord.Items = items

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, "orders:"+id, ord, 5*time.Minute)
	}
	return ord, nil
}

func (d Datasource) getOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT order_id, product_id, variant_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order items", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		item := model.OrderItem{}
		err = rows.Scan(&item.OrderID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPrice)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order item", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over order items", err)
	}
	return items, nil
}

func (d Datasource) GetPendingOrdersByCustomer(ctx context.Context, customerID string, since time.Time) ([]*model.Order, error) {
	return d.getPendingOrders(ctx, "customer_id", customerID, since)
}

func (d Datasource) GetPendingOrdersByEmail(ctx context.Context, email string, since time.Time) ([]*model.Order, error) {
	return d.getPendingOrders(ctx, "email", email, since)
}

func (d Datasource) getPendingOrders(ctx context.Context, field, value string, since time.Time) ([]*model.Order, error) {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Fetching pending orders in duplicate window")
	defer span.End()

	// field is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE %s = $1
		  AND status = 'PENDING'
		  AND payment_status IN ('PENDING', 'FAILED')
		  AND created_at >= $2
		ORDER BY created_at DESC
	`, field)

	rows, err := d.Conn.QueryContext(ctx, query, value, since)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending orders", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		orders = append(orders, ord)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over orders", err)
	}

	for _, ord := range orders {
		items, err := d.getOrderItems(ctx, ord.OrderID)
		if err != nil {
			return nil, err
		}
		ord.Items = items
	}
	return orders, nil
}

func (d Datasource) UpdateOrderStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $2
		WHERE order_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}

	d.invalidateOrder(ctx, id)
	return nil
}

func (d Datasource) SetPaymentURL(ctx context.Context, id string, url string, expiresAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET payment_url = $2, payment_expires_at = $3
		WHERE order_id = $1
	`, id, url, expiresAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set payment URL", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}

	d.invalidateOrder(ctx, id)
	return nil
}

func (d Datasource) SetTrackingNumber(ctx context.Context, id string, trackingNumber string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET tracking_number = $2, status = 'FULFILLED'
		WHERE order_id = $1
	`, id, trackingNumber)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set tracking number", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}

	d.invalidateOrder(ctx, id)
	return nil
}

func (d Datasource) CancelStaleOrders(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Cancelling stale pending orders")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET status = 'CANCELLED', cancellation_reason = $2
		WHERE status = 'PENDING'
		  AND payment_status IN ('PENDING', 'FAILED')
		  AND created_at < $1
	`, olderThan, reason)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel stale orders", err)
	}

	return result.RowsAffected()
}

func (d Datasource) invalidateOrder(ctx context.Context, id string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, "orders:"+id); err != nil {
		// Cache invalidation is best effort; the row is the source of truth.
		_ = err
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
