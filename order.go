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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/internal/apierror"
	"github.com/caterly/storefront/model"
)

// CreateOrderResult is the outcome of placing an order. Resumed is set when
// an identical pending order already existed and Order points at it instead
// of a fresh row.
type CreateOrderResult struct {
	Order   *model.Order `json:"order"`
	Resumed bool         `json:"resumed"`
}

// CreateOrder places a new order. Stale pending orders are swept first so
// they cannot match as duplicates; an identical cart from the same customer
// inside the duplicate window resumes the existing order rather than
// creating a second one.
func (s *Storefront) CreateOrder(ctx context.Context, ident OrderIdentity, currency string, cart []model.CartItem, metaData map[string]interface{}) (*CreateOrderResult, error) {
	ctx, span := otel.Tracer("order.core").Start(ctx, "Creating order")
	defer span.End()

	if len(cart) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Order must contain at least one item", nil)
	}
	for _, item := range cart {
		if item.ProductID == "" || item.Quantity <= 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Order items need a product ID and a positive quantity", nil)
		}
	}

	breaker, err := s.guardDatabase()
	if err != nil {
		return nil, err
	}

	// Best effort; a failed sweep widens the duplicate candidate set but
	// never blocks checkout.
	if _, err := s.CancelStaleOrders(ctx); err != nil {
		logrus.Warnf("stale order sweep failed: %v", err)
	}

	duplicate, err := s.CheckDuplicateOrder(ctx, ident, cart)
	s.observeDatabase(breaker, err)
	if err != nil {
		return nil, err
	}
	if duplicate.HasPendingOrder {
		logrus.Infof("duplicate cart matched pending order %s, resuming", duplicate.ExistingOrder.OrderID)
		return &CreateOrderResult{Order: duplicate.ExistingOrder, Resumed: true}, nil
	}

	ord := &model.Order{
		OrderID:       model.GenerateUUIDWithSuffix("order"),
		CustomerID:    ident.CustomerID,
		Email:         ident.Email,
		Currency:      currency,
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
		MetaData:      metaData,
	}
	for _, item := range cart {
		ord.TotalAmount += int64(item.Quantity) * item.UnitPrice
		ord.Items = append(ord.Items, model.OrderItem{
			ProductID: item.ProductID,
			VariantID: model.NormalizeVariant(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	saved, err := s.datasource.RecordOrder(ctx, ord)
	s.observeDatabase(breaker, err)
	if err != nil {
		return nil, err
	}

	if err := SendWebhook(NewWebhook{Event: EventOrderCreated, Payload: saved}); err != nil {
		logrus.Errorf("failed to enqueue order.created webhook: %v", err)
	}
	return &CreateOrderResult{Order: saved}, nil
}

// GetOrder retrieves an order with its line items.
func (s *Storefront) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	breaker, err := s.guardDatabase()
	if err != nil {
		return nil, err
	}
	ord, err := s.datasource.GetOrder(ctx, orderID)
	s.observeDatabase(breaker, err)
	return ord, err
}

// ResumeOrder returns the existing payment URL for a pending order so the
// customer can finish checkout. Confirmed or cancelled orders cannot be
// resumed.
func (s *Storefront) ResumeOrder(ctx context.Context, orderID string) (*model.Order, error) {
	ord, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Only pending orders can be resumed", map[string]interface{}{
			"order_id": ord.OrderID,
			"status":   ord.Status,
		})
	}
	return ord, nil
}

// CancelOrder cancels a pending order and notifies the merchant.
func (s *Storefront) CancelOrder(ctx context.Context, orderID string, reason string) error {
	breaker, err := s.guardDatabase()
	if err != nil {
		return err
	}
	ord, err := s.datasource.GetOrder(ctx, orderID)
	s.observeDatabase(breaker, err)
	if err != nil {
		return err
	}
	if ord.Status == model.StatusFulfilled {
		return apierror.NewAPIError(apierror.ErrConflict, "Fulfilled orders cannot be cancelled", nil)
	}

	err = s.datasource.UpdateOrderStatus(ctx, orderID, model.StatusCancelled)
	s.observeDatabase(breaker, err)
	if err != nil {
		return err
	}
	if err := SendWebhook(NewWebhook{Event: EventOrderCancelled, Payload: map[string]interface{}{
		"order_id": orderID,
		"reason":   reason,
	}}); err != nil {
		logrus.Errorf("failed to enqueue order.cancelled webhook: %v", err)
	}
	return nil
}
