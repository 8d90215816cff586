package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLease(t *testing.T) {
	ds, mock := newTestDatasource(t)

	// TTL travels as seconds and the expiry is computed by Postgres, so the
	// predicate and the new expiry read the same clock.
	mock.ExpectExec(regexp.QuoteMeta("SET lock_holder = $2, lock_expires_at = NOW() + make_interval(secs => $3)")).
		WithArgs("order_abc", "lock_1", float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acquired, err := ds.AcquireLease(context.Background(), "order_abc", "lock_1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLeaseHeld(t *testing.T) {
	ds, mock := newTestDatasource(t)

	// Conditional update matches no rows when another holder has the lease.
	mock.ExpectExec(regexp.QuoteMeta("SET lock_holder = $2, lock_expires_at = NOW() + make_interval(secs => $3)")).
		WithArgs("order_abc", "lock_2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	acquired, err := ds.AcquireLease(context.Background(), "order_abc", "lock_2", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestReleaseLease(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("SET lock_holder = NULL, lock_expires_at = NULL")).
		WithArgs("order_abc", "lock_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	released, err := ds.ReleaseLease(context.Background(), "order_abc", "lock_1")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestReleaseLeaseWrongHolder(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("SET lock_holder = NULL, lock_expires_at = NULL")).
		WithArgs("order_abc", "lock_stale").
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := ds.ReleaseLease(context.Background(), "order_abc", "lock_stale")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestForceReleaseLease(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("retry_count = 0, last_retry_at = NULL")).
		WithArgs("order_abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.ForceReleaseLease(context.Background(), "order_abc")
	require.NoError(t, err)
}

func TestForceReleaseLeaseNotFound(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("retry_count = 0, last_retry_at = NULL")).
		WithArgs("order_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.ForceReleaseLease(context.Background(), "order_missing")
	require.Error(t, err)
}
