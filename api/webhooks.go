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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/caterly/storefront/api/model"
	"github.com/caterly/storefront/internal/retryclass"
)

// InboundWebhook ingests a provider delivery. The response status is the
// retry contract with the provider: a retryable processing failure answers
// 503 so the provider redelivers, anything permanent answers 200 with an
// ignored status so the provider stops.
func (a Api) InboundWebhook(c *gin.Context) {
	var delivery model2.InboundWebhook
	if err := c.ShouldBindJSON(&delivery); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := delivery.ValidateInboundWebhook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.processInboundEvent(c, &delivery); err != nil {
		if retryclass.ShouldRetry(err, delivery.Event) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "retry", "error": err.Error()})
			return
		}
		logrus.Warnf("ignoring %s delivery: %v", delivery.Event, err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (a Api) processInboundEvent(c *gin.Context, delivery *model2.InboundWebhook) error {
	orderID, _ := delivery.Data["order_id"].(string)

	switch delivery.Event {
	case "payment.succeeded":
		if orderID == "" {
			return fmt.Errorf("payment.succeeded delivery carries no order_id")
		}
		return a.storefront.CapturePayment(c.Request.Context(), orderID)
	case "payment.expired":
		if orderID == "" {
			return fmt.Errorf("payment.expired delivery carries no order_id")
		}
		return a.storefront.CancelOrder(c.Request.Context(), orderID, "payment_session_expired")
	default:
		logrus.Infof("unhandled inbound event %q", delivery.Event)
		return nil
	}
}
