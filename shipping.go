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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/internal/apierror"
	"github.com/caterly/storefront/internal/circuit"
	"github.com/caterly/storefront/internal/request"
	"github.com/caterly/storefront/internal/retryclass"
	"github.com/caterly/storefront/model"
)

const shippingDependency = "shippo"

type labelRequest struct {
	OrderID string            `json:"order_id"`
	Items   []model.OrderItem `json:"items"`
}

type labelResponse struct {
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url,omitempty"`
}

// LabelResult is the outcome of a label creation attempt.
type LabelResult struct {
	Created        bool               `json:"created"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Lease          *model.LeaseResult `json:"lease,omitempty"`
}

// CreateShippingLabel generates a shipping label for a paid order. The label
// lease makes the external call mutually exclusive per order: exactly one
// worker talks to the carrier while concurrent attempts learn who holds the
// slot and until when. The lease is released on every exit path; a label
// already on the order short-circuits before any external call.
func (s *Storefront) CreateShippingLabel(ctx context.Context, orderID string) (*LabelResult, error) {
	ctx, span := otel.Tracer("order.shipping").Start(ctx, "Creating shipping label")
	defer span.End()

	breaker := s.circuits.Get(shippingDependency)
	if !breaker.CanExecute() {
		return nil, breaker.OpenError()
	}

	ord, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.PaymentStatus != model.PaymentPaid {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Labels are only created for paid orders", nil)
	}
	if ord.HasLabel() {
		return &LabelResult{Created: false, TrackingNumber: *ord.TrackingNumber, Reason: model.LeaseReasonAlreadyHasLabel}, nil
	}

	lease, err := s.AcquireLabelLease(ctx, orderID, 0)
	if err != nil {
		return nil, err
	}
	if !lease.Acquired {
		if lease.Reason == model.LeaseReasonAlreadyHasLabel {
			fresh, err := s.GetOrder(ctx, orderID)
			if err != nil {
				return nil, err
			}
			return &LabelResult{TrackingNumber: *fresh.TrackingNumber, Reason: lease.Reason}, nil
		}
		return &LabelResult{Reason: lease.Reason, Lease: lease}, nil
	}
	defer s.ReleaseLabelLease(ctx, orderID, lease.LockID)

	labelResp, err := s.callCarrier(ctx, ord)
	if err != nil {
		if retryclass.ShouldRetry(err, "label.create") {
			breaker.RecordFailure(err)
		}
		return nil, err
	}
	breaker.RecordSuccess()

	if err := s.datasource.SetTrackingNumber(ctx, orderID, labelResp.TrackingNumber); err != nil {
		return nil, err
	}

	if err := SendWebhook(NewWebhook{Event: EventLabelCreated, Payload: map[string]interface{}{
		"order_id":        orderID,
		"tracking_number": labelResp.TrackingNumber,
	}}); err != nil {
		logrus.Errorf("failed to enqueue label.created webhook: %v", err)
	}
	return &LabelResult{Created: true, TrackingNumber: labelResp.TrackingNumber}, nil
}

// QueueLabelGeneration enqueues asynchronous label generation for a paid
// order. Enqueueing is idempotent per order; a task already in flight is
// reported instead of duplicated.
func (s *Storefront) QueueLabelGeneration(ctx context.Context, orderID string) (*LabelResult, error) {
	ord, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.PaymentStatus != model.PaymentPaid {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Labels are only created for paid orders", nil)
	}
	if ord.HasLabel() {
		return &LabelResult{TrackingNumber: *ord.TrackingNumber, Reason: model.LeaseReasonAlreadyHasLabel}, nil
	}

	if queued, err := s.queue.GetLabelTaskFromQueue(orderID); err == nil && queued != nil {
		return &LabelResult{Reason: "label_task_queued"}, nil
	}
	if err := s.queue.EnqueueLabelGeneration(ctx, orderID); err != nil {
		return nil, err
	}
	return &LabelResult{Reason: "label_task_queued"}, nil
}

// ProcessLabelTask handles a queued label-generation task. A still-open
// circuit or a transient carrier failure hands the task back to asynq for a
// later retry; permanent failures are logged and dropped so the queue does
// not churn on them.
func (s *Storefront) ProcessLabelTask(ctx context.Context, task *asynq.Task) error {
	var payload LabelTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("invalid label task payload: %v", err)
		return nil
	}

	result, err := s.CreateShippingLabel(ctx, payload.OrderID)
	if err != nil {
		var openErr *circuit.CircuitOpenError
		if errors.As(err, &openErr) {
			return err
		}
		if retryclass.ShouldRetry(err, "label.task") {
			return err
		}
		logrus.Warnf("dropping label task for order %s: %v", payload.OrderID, err)
		return nil
	}

	if result.Reason == model.LeaseReasonAlreadyLocked || result.Reason == model.LeaseReasonLostRace {
		// Another worker holds the slot. Let asynq retry after backoff.
		return errors.New("label lease held by another worker")
	}
	return nil
}

// callCarrier posts the label request to the configured shipping provider
// with a fresh idempotency key.
func (s *Storefront) callCarrier(ctx context.Context, ord *model.Order) (*labelResponse, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	payload, err := request.ToJsonReq(&labelRequest{OrderID: ord.OrderID, Items: ord.Items})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Shipping.Url+"/labels", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set(request.IdempotencyHeader, s.keys.Next())

	var response labelResponse
	resp, err := request.Call(req, &response)
	if resp != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, &retryclass.HTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	if err != nil {
		return nil, err
	}
	if response.TrackingNumber == "" {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Carrier returned no tracking number", nil)
	}
	return &response, nil
}
