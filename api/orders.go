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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/caterly/storefront"
	model2 "github.com/caterly/storefront/api/model"
)

// CreateOrder places a new order. An identical recent pending order is not
// re-created; the existing order comes back as a 409 with the payment URL
// needed to resume it.
func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newOrder.ValidateCreateOrder(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.storefront.CreateOrder(c.Request.Context(),
		storefront.OrderIdentity{CustomerID: newOrder.CustomerID, Email: newOrder.Email},
		newOrder.Currency,
		newOrder.ToCart(),
		newOrder.MetaData)
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Resumed {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	ord, err := a.storefront.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

// ResumeOrder returns the stored payment URL for a pending order.
func (a Api) ResumeOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	ord, err := a.storefront.ResumeOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":           ord.OrderID,
		"payment_url":        ord.PaymentURL,
		"payment_expires_at": ord.PaymentExpiresAt,
		"retry_count":        ord.RetryCount,
	})
}

func (a Api) CancelOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.CancelOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := a.storefront.CancelOrder(c.Request.Context(), id, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (a Api) GetLeaseInfo(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	info, err := a.storefront.GetLeaseInfo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
