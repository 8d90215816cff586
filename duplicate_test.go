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
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caterly/storefront/model"
)

func TestCartComparisonIsOrderIndependent(t *testing.T) {
	a := cartKeyCounts([]model.CartItem{
		{ProductID: "prod_1", VariantID: "large", Quantity: 2},
		{ProductID: "prod_2", Quantity: 1},
	})
	b := orderKeyCounts([]model.OrderItem{
		{ProductID: "prod_2", VariantID: "default", Quantity: 1},
		{ProductID: "prod_1", VariantID: "large", Quantity: 2},
	})
	assert.True(t, sameItemCounts(a, b))
}

func TestCartComparisonSensitivity(t *testing.T) {
	base := []model.OrderItem{
		{ProductID: "prod_1", VariantID: "default", Quantity: 2},
		{ProductID: "prod_2", VariantID: "large", Quantity: 1},
	}

	t.Run("different quantity", func(t *testing.T) {
		cart := []model.CartItem{
			{ProductID: "prod_1", Quantity: 3},
			{ProductID: "prod_2", VariantID: "large", Quantity: 1},
		}
		assert.False(t, sameItemCounts(cartKeyCounts(cart), orderKeyCounts(base)))
	})

	t.Run("extra item", func(t *testing.T) {
		cart := []model.CartItem{
			{ProductID: "prod_1", Quantity: 2},
			{ProductID: "prod_2", VariantID: "large", Quantity: 1},
			{ProductID: "prod_3", Quantity: 1},
		}
		assert.False(t, sameItemCounts(cartKeyCounts(cart), orderKeyCounts(base)))
	})

	t.Run("different variant", func(t *testing.T) {
		cart := []model.CartItem{
			{ProductID: "prod_1", VariantID: "small", Quantity: 2},
			{ProductID: "prod_2", VariantID: "large", Quantity: 1},
		}
		assert.False(t, sameItemCounts(cartKeyCounts(cart), orderKeyCounts(base)))
	})

	t.Run("split lines of the same item collapse", func(t *testing.T) {
		cart := []model.CartItem{
			{ProductID: "prod_1", Quantity: 1},
			{ProductID: "prod_1", Quantity: 1},
			{ProductID: "prod_2", VariantID: "large", Quantity: 1},
		}
		assert.True(t, sameItemCounts(cartKeyCounts(cart), orderKeyCounts(base)))
	})
}

func TestCheckDuplicateOrderAnonymous(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefront(t, datasource)

	// No identity, no candidates to query.
	result, err := s.CheckDuplicateOrder(context.Background(), OrderIdentity{}, []model.CartItem{
		{ProductID: "prod_1", Quantity: 1},
	})
	require.NoError(t, err)
	assert.False(t, result.HasPendingOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDuplicateOrderPrefersCustomerID(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	require.NoError(t, err)
	s := newTestStorefront(t, datasource)

	existing := &model.Order{
		OrderID:       "order_existing",
		CustomerID:    "cus_123",
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		Currency:      "USD",
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}

	mock.ExpectQuery(regexp.QuoteMeta("customer_id = $1")).
		WithArgs("cus_123", sqlmock.AnyArg()).
		WillReturnRows(orderRowsForTest(existing))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs(existing.OrderID).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "product_id", "variant_id", "quantity", "unit_price"}).
			AddRow(existing.OrderID, "prod_1", "default", 2, 1500))

	result, err := s.CheckDuplicateOrder(context.Background(),
		OrderIdentity{CustomerID: "cus_123", Email: "jo@example.com"},
		[]model.CartItem{{ProductID: "prod_1", Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, result.HasPendingOrder)
	assert.Equal(t, "order_existing", result.ExistingOrder.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
