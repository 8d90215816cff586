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
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/internal/circuit"
	"github.com/caterly/storefront/model"
)

func paymentTestConfig() *config.Configuration {
	return &config.Configuration{
		Payment: config.PaymentConfig{Url: "http://payment.test"},
	}
}

func TestCapturePayment(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefrontConf(t, datasource, paymentTestConfig())

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "http://payment.test/captures",
		func(req *http.Request) (*http.Response, error) {
			assert.NotEmpty(t, req.Header.Get("Idempotency-Key"))
			return httpmock.NewJsonResponse(200, map[string]interface{}{"status": "succeeded"})
		})

	ord := &model.Order{
		OrderID:       "order_pay",
		TotalAmount:   3000,
		Currency:      "USD",
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE NOWAIT")).
		WithArgs(ord.OrderID).
		WillReturnRows(orderRowsForTest(ord))
	mock.ExpectExec(regexp.QuoteMeta("SET payment_status = 'PAID', status = 'CONFIRMED'")).
		WithArgs(ord.OrderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.CapturePayment(context.Background(), ord.OrderID)
	require.NoError(t, err)
	assert.Equal(t, circuit.StateClosed, s.Circuits().Get("payment").State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapturePaymentAlreadyPaidIsNoOp(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefrontConf(t, datasource, paymentTestConfig())

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	paid := &model.Order{
		OrderID:       "order_paid",
		Currency:      "USD",
		Status:        model.StatusConfirmed,
		PaymentStatus: model.PaymentPaid,
		CreatedAt:     time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE NOWAIT")).
		WithArgs(paid.OrderID).
		WillReturnRows(orderRowsForTest(paid))
	mock.ExpectCommit()

	err = s.CapturePayment(context.Background(), paid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount(), "no provider call for an already paid order")
}

func TestCapturePaymentProviderFailureRecordsAttempt(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefrontConf(t, datasource, paymentTestConfig())

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("POST", "http://payment.test/captures",
		httpmock.NewStringResponder(500, `{"status":"error"}`))

	ord := &model.Order{
		OrderID:       "order_fail",
		Currency:      "USD",
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE NOWAIT")).
		WithArgs(ord.OrderID).
		WillReturnRows(orderRowsForTest(ord))
	// The failed attempt commits its retry bookkeeping.
	mock.ExpectExec(regexp.QuoteMeta("retry_count = retry_count + 1")).
		WithArgs(ord.OrderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.CapturePayment(context.Background(), ord.OrderID)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapturePaymentCircuitOpen(t *testing.T) {
	datasource, _, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefrontConf(t, datasource, paymentTestConfig())

	breaker := s.Circuits().Get("payment")
	for i := 0; i < 5; i++ {
		breaker.RecordFailure(errors.New("connection refused"))
	}

	err = s.CapturePayment(context.Background(), "order_any")
	require.Error(t, err)
	var openErr *circuit.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "payment", openErr.Dependency)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestCapturePaymentLockHeld(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefrontConf(t, datasource, paymentTestConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE NOWAIT")).
		WithArgs("order_locked").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	err = s.CapturePayment(context.Background(), "order_locked")
	require.Error(t, err)
	var lockErr *database.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, database.LockReasonTimeout, lockErr.Reason)
}
