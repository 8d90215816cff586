package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/model"
)

// LockWait selects the FOR UPDATE variant used when the target rows are
// already locked by another transaction.
type LockWait int

const (
	// LockNoWait fails immediately when the row is held.
	LockNoWait LockWait = iota
	// LockWaitBlocking queues behind the current holder.
	LockWaitBlocking
	// LockSkipLocked silently drops held rows from the result set.
	LockSkipLocked
)

// LockOptions tunes row-lock acquisition. The zero value is NOWAIT under the
// connection's default isolation level.
type LockOptions struct {
	Wait      LockWait
	Isolation sql.IsolationLevel
}

const (
	LockReasonTimeout  = "timeout"
	LockReasonDeadlock = "deadlock"
	LockReasonNotFound = "not_found"
	LockReasonUnknown  = "unknown"
)

// LockError reports why a row lock could not be taken.
type LockError struct {
	OrderID string
	Reason  string
	Err     error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("row lock on order '%s' failed: %s", e.OrderID, e.Reason)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// classifyLockErr maps driver failures onto lock reasons. 55P03 is the NOWAIT
// lock-not-available error, 57014 a statement timeout, 40P01 a deadlock the
// server broke by killing us.
func classifyLockErr(orderID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &LockError{OrderID: orderID, Reason: LockReasonNotFound, Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "55P03", "57014":
			return &LockError{OrderID: orderID, Reason: LockReasonTimeout, Err: err}
		case "40P01":
			return &LockError{OrderID: orderID, Reason: LockReasonDeadlock, Err: err}
		}
	}
	return &LockError{OrderID: orderID, Reason: LockReasonUnknown, Err: err}
}

func lockSuffix(wait LockWait) string {
	switch wait {
	case LockWaitBlocking:
		return ""
	case LockSkipLocked:
		return " SKIP LOCKED"
	default:
		return " NOWAIT"
	}
}

// WithOrderLock runs fn with the order's row locked for the duration of a
// single transaction. fn receives the transaction so its writes commit or
// roll back with the lock.
func (d Datasource) WithOrderLock(ctx context.Context, orderID string, opts LockOptions, fn func(tx *sql.Tx, ord *model.Order) error) error {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Locking order row")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: opts.Isolation})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_id = $1
		FOR UPDATE`+lockSuffix(opts.Wait)+`
	`, orderID)

	ord, err := scanOrder(row)
	if err != nil {
		return classifyLockErr(orderID, err)
	}

	if err := fn(tx, ord); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyLockErr(orderID, err)
	}
	d.invalidateOrder(ctx, orderID)
	return nil
}

// WithOrderLocks locks a batch of orders in one transaction. With
// LockSkipLocked fn sees only the rows that were free; held rows are skipped
// rather than failing the batch.
func (d Datasource) WithOrderLocks(ctx context.Context, orderIDs []string, opts LockOptions, fn func(tx *sql.Tx, orders []*model.Order) error) error {
	ctx, span := otel.Tracer("order.database").Start(ctx, "Locking order rows")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: opts.Isolation})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Deterministic lock order keeps concurrent batches from deadlocking
	// each other.
	rows, err := tx.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_id = ANY($1)
		ORDER BY order_id ASC
		FOR UPDATE`+lockSuffix(opts.Wait)+`
	`, pq.Array(orderIDs))
	if err != nil {
		return classifyLockErr("", err)
	}

	var orders []*model.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return classifyLockErr("", err)
		}
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classifyLockErr("", err)
	}
	rows.Close()

	if err := fn(tx, orders); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyLockErr("", err)
	}
	for _, ord := range orders {
		d.invalidateOrder(ctx, ord.OrderID)
	}
	return nil
}

// MarkOrderPaidTx confirms an order inside a caller-held row lock.
func (d Datasource) MarkOrderPaidTx(tx *sql.Tx, orderID string) error {
	_, err := tx.Exec(`
		UPDATE orders
		SET payment_status = 'PAID', status = 'CONFIRMED'
		WHERE order_id = $1
	`, orderID)
	return err
}

// RecordPaymentFailureTx bumps the retry counter inside a caller-held row
// lock.
func (d Datasource) RecordPaymentFailureTx(tx *sql.Tx, orderID string) error {
	_, err := tx.Exec(`
		UPDATE orders
		SET payment_status = 'FAILED', retry_count = retry_count + 1, last_retry_at = NOW()
		WHERE order_id = $1
	`, orderID)
	return err
}
