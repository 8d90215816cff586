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
)

// ForceReleaseLease clears a wedged label lease so the order can be
// processed again. Idempotent.
func (a Api) ForceReleaseLease(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.storefront.ForceReleaseLease(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// GetCircuits reports the state of every circuit breaker.
func (a Api) GetCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, a.storefront.Circuits().Snapshots())
}

// ResetCircuit forces a breaker back to CLOSED.
func (a Api) ResetCircuit(c *gin.Context) {
	name, passed := c.Params.Get("name")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required. pass name in the route /:name"})
		return
	}

	if !a.storefront.Circuits().Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown circuit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
