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
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caterly/storefront"
	"github.com/caterly/storefront/api/middleware"
	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/internal/apierror"
	"github.com/caterly/storefront/internal/circuit"
)

type Api struct {
	storefront *storefront.Storefront
	router     *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders/:id", a.GetOrder)
	router.POST("/orders/:id/resume", a.ResumeOrder)
	router.POST("/orders/:id/cancel", a.CancelOrder)
	router.GET("/orders/:id/lease", a.GetLeaseInfo)

	router.POST("/orders/:id/payment", a.StartPayment)
	router.POST("/orders/:id/capture", a.CapturePayment)
	router.POST("/orders/:id/label", a.CreateLabel)

	router.POST("/webhooks/inbound", a.InboundWebhook)

	router.POST("/admin/orders/:id/force-release-lease", a.ForceReleaseLease)
	router.GET("/admin/circuits", a.GetCircuits)
	router.POST("/admin/circuits/:name/reset", a.ResetCircuit)
	return a.router
}

func NewAPI(s *storefront.Storefront) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{storefront: s, router: r}
}

// respondError maps domain errors onto HTTP. Breaker rejections carry a
// Retry-After hint; lock and lease conflicts surface as 409.
func respondError(c *gin.Context, err error) {
	var openErr *circuit.CircuitOpenError
	if errors.As(err, &openErr) {
		c.Header("Retry-After", fmt.Sprintf("%d", int(openErr.RetryAfter.Seconds())+1))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      err.Error(),
			"dependency": openErr.Dependency,
		})
		return
	}
	var lockErr *database.LockError
	if errors.As(err, &lockErr) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": lockErr.Reason})
		return
	}
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
