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
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/internal/apierror"
	"github.com/caterly/storefront/internal/request"
	"github.com/caterly/storefront/internal/retryclass"
	"github.com/caterly/storefront/model"
)

const paymentDependency = "payment"

type chargeRequest struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// StartPayment creates a payment session for a pending order and stores the
// checkout URL the customer must visit. A fresh idempotency key is minted
// for the attempt so the processor deduplicates driver-level retries without
// swallowing deliberate new attempts.
func (s *Storefront) StartPayment(ctx context.Context, orderID string) (*model.Order, error) {
	ctx, span := otel.Tracer("order.payment").Start(ctx, "Starting payment session")
	defer span.End()

	breaker := s.circuits.Get(paymentDependency)
	if !breaker.CanExecute() {
		return nil, breaker.OpenError()
	}

	ord, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.PaymentStatus == model.PaymentPaid {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Order is already paid", nil)
	}
	if ord.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Only pending orders can start payment", nil)
	}

	resp, err := s.callPaymentProvider(ctx, "/sessions", ord)
	if err != nil {
		if retryclass.ShouldRetry(err, "payment.session") {
			breaker.RecordFailure(err)
		}
		return nil, err
	}
	breaker.RecordSuccess()

	expiresAt := time.Now().Add(30 * time.Minute)
	if resp.ExpiresAt != "" {
		if parsed, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			expiresAt = parsed
		}
	}
	if err := s.datasource.SetPaymentURL(ctx, orderID, resp.PaymentURL, expiresAt); err != nil {
		return nil, err
	}
	return s.datasource.GetOrder(ctx, orderID)
}

// CapturePayment confirms payment for an order. The order row is locked
// NOWAIT for the duration of the capture so a concurrent capture or refund
// fails fast instead of double-charging; duplicate captures on a paid order
// are a no-op.
func (s *Storefront) CapturePayment(ctx context.Context, orderID string) error {
	ctx, span := otel.Tracer("order.payment").Start(ctx, "Capturing payment")
	defer span.End()

	breaker := s.circuits.Get(paymentDependency)
	if !breaker.CanExecute() {
		return breaker.OpenError()
	}
	dbBreaker, err := s.guardDatabase()
	if err != nil {
		return err
	}

	var captured bool
	var providerErr error
	err = s.datasource.WithOrderLock(ctx, orderID, database.LockOptions{Wait: database.LockNoWait}, func(tx *sql.Tx, ord *model.Order) error {
		if ord.PaymentStatus == model.PaymentPaid {
			return nil
		}
		if ord.Status != model.StatusPending {
			return apierror.NewAPIError(apierror.ErrConflict, "Only pending orders can capture payment", nil)
		}

		if _, err := s.callPaymentProvider(ctx, "/captures", ord); err != nil {
			if retryclass.ShouldRetry(err, "payment.capture") {
				breaker.RecordFailure(err)
			}
			// Returning nil commits the retry bookkeeping even though the
			// attempt failed; the provider error is carried out separately.
			providerErr = err
			return s.datasource.RecordPaymentFailureTx(tx, ord.OrderID)
		}
		breaker.RecordSuccess()
		captured = true
		return s.datasource.MarkOrderPaidTx(tx, ord.OrderID)
	})
	s.observeDatabase(dbBreaker, err)
	if err != nil {
		// LockError flows out unwrapped: the API layer maps it to 409 and
		// the retry classifier still sees the driver code underneath.
		return err
	}
	if providerErr != nil {
		if err := SendWebhook(NewWebhook{Event: EventPaymentFailed, Payload: map[string]interface{}{
			"order_id": orderID,
		}}); err != nil {
			logrus.Errorf("failed to enqueue payment.failed webhook: %v", err)
		}
		return providerErr
	}

	if captured {
		if err := SendWebhook(NewWebhook{Event: EventPaymentCaptured, Payload: map[string]interface{}{
			"order_id": orderID,
		}}); err != nil {
			logrus.Errorf("failed to enqueue payment.captured webhook: %v", err)
		}
		// Kick off label generation now that the order is paid.
		if err := s.queue.EnqueueLabelGeneration(ctx, orderID); err != nil {
			logrus.Errorf("failed to enqueue label generation for order %s: %v", orderID, err)
		}
	}
	return nil
}

// callPaymentProvider posts the charge payload to the configured payment
// endpoint with a fresh idempotency key.
func (s *Storefront) callPaymentProvider(ctx context.Context, path string, ord *model.Order) (*chargeResponse, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	payload, err := request.ToJsonReq(&chargeRequest{
		OrderID:  ord.OrderID,
		Amount:   ord.TotalAmount,
		Currency: ord.Currency,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Payment.Url+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set(request.IdempotencyHeader, s.keys.Next())

	var response chargeResponse
	resp, err := request.Call(req, &response)
	// Status first: error bodies are rarely valid JSON, so a decode failure
	// must not mask the upstream status code.
	if resp != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, &retryclass.HTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	if err != nil {
		return nil, err
	}
	if response.Status != "" && response.Status != "succeeded" && response.Status != "created" {
		return nil, fmt.Errorf("payment provider returned status %q", response.Status)
	}
	return &response, nil
}
