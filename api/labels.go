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

	"github.com/caterly/storefront/model"
)

// CreateLabel generates a shipping label for a paid order. A label that
// already exists comes back 200; a lease held by another worker comes back
// 409 with the holder and expiry.
func (a Api) CreateLabel(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if c.Query("async") == "true" {
		result, err := a.storefront.QueueLabelGeneration(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if result.Reason == model.LeaseReasonAlreadyHasLabel {
			c.JSON(http.StatusOK, result)
			return
		}
		c.JSON(http.StatusAccepted, result)
		return
	}

	result, err := a.storefront.CreateShippingLabel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	switch {
	case result.Created:
		c.JSON(http.StatusCreated, result)
	case result.Reason == model.LeaseReasonAlreadyHasLabel:
		c.JSON(http.StatusOK, result)
	default:
		// Another worker holds the label slot.
		c.JSON(http.StatusConflict, result)
	}
}
