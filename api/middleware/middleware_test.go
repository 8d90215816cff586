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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/caterly/storefront/config"
)

func authRouter(t *testing.T, secretKey string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: secretKey},
	})

	r := gin.New()
	r.Use(SecretKeyAuthMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestSecretKeyAuth(t *testing.T) {
	r := authRouter(t, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(KeyHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecretKeyAuthMissingHeader(t *testing.T) {
	r := authRouter(t, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecretKeyAuthWrongKey(t *testing.T) {
	r := authRouter(t, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(KeyHeader, "guess")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(&config.Configuration{}))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
