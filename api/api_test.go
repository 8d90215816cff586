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
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterly/storefront"
	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
)

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *storefront.Storefront) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := storefront.NewStorefront(&database.Datasource{Conn: db})
	require.NoError(t, err)
	return NewAPI(s).Router(), mock, s
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrderValidation(t *testing.T) {
	router, _, _ := setupRouter(t)

	t.Run("missing items", func(t *testing.T) {
		w := postJSON(t, router, "/orders", map[string]interface{}{
			"customer_id": "cus_123",
			"currency":    "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing identity", func(t *testing.T) {
		w := postJSON(t, router, "/orders", map[string]interface{}{
			"currency": "USD",
			"items":    []map[string]interface{}{{"product_id": "prod_1", "quantity": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad currency", func(t *testing.T) {
		w := postJSON(t, router, "/orders", map[string]interface{}{
			"customer_id": "cus_123",
			"currency":    "DOLLARS",
			"items":       []map[string]interface{}{{"product_id": "prod_1", "quantity": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInboundWebhookRetryContract(t *testing.T) {
	router, mock, _ := setupRouter(t)

	t.Run("unknown event is acknowledged", func(t *testing.T) {
		w := postJSON(t, router, "/webhooks/inbound", map[string]interface{}{
			"event": "customer.updated",
			"data":  map[string]interface{}{},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "processed")
	})

	t.Run("permanent failure is swallowed", func(t *testing.T) {
		// No order_id makes the delivery unprocessable forever; answering
		// 200 stops the provider from redelivering it.
		w := postJSON(t, router, "/webhooks/inbound", map[string]interface{}{
			"event": "payment.succeeded",
			"data":  map[string]interface{}{},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ignored")
	})

	t.Run("transient failure asks for redelivery", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE NOWAIT")).
			WithArgs("order_busy").
			WillReturnError(&pq.Error{Code: "55P03"})
		mock.ExpectRollback()

		w := postJSON(t, router, "/webhooks/inbound", map[string]interface{}{
			"event": "payment.succeeded",
			"data":  map[string]interface{}{"order_id": "order_busy"},
		})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "retry")
	})
}

func TestAdminCircuits(t *testing.T) {
	router, _, s := setupRouter(t)

	// Trip the shippo breaker so the snapshot has something to show.
	breaker := s.Circuits().Get("shippo")
	for i := 0; i < 5; i++ {
		breaker.RecordFailure(errors.New("connection refused"))
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/circuits", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shippo")
	assert.Contains(t, w.Body.String(), "OPEN")

	w = postJSON(t, router, "/admin/circuits/shippo/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/admin/circuits/nope/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForceReleaseLeaseEndpoint(t *testing.T) {
	router, mock, _ := setupRouter(t)

	mock.ExpectExec(regexp.QuoteMeta("retry_count = 0, last_retry_at = NULL")).
		WithArgs("order_wedged").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, router, "/admin/orders/order_wedged/force-release-lease", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "released")
	assert.NoError(t, mock.ExpectationsWereMet())
}
