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

package retryclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestShouldRetryHTTPStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}

	for _, tt := range tests {
		err := NewPayloadError(map[string]interface{}{"statusCode": tt.status})
		assert.Equal(t, tt.want, ShouldRetry(err, "payment.captured"), "statusCode %d", tt.status)
	}
}

func TestShouldRetryStatusUnderAlternateKeys(t *testing.T) {
	assert.False(t, ShouldRetry(NewPayloadError(map[string]interface{}{"status": 403}), "order.created"))
	assert.True(t, ShouldRetry(NewPayloadError(map[string]interface{}{"httpStatusCode": float64(500)}), "order.created"))
	assert.True(t, ShouldRetry(&HTTPError{StatusCode: 503, Body: "bad gateway"}, "order.created"))
}

func TestShouldRetryDomainErrors(t *testing.T) {
	assert.False(t, ShouldRetry(ErrMerchantMismatch, "payment.captured"))
	assert.False(t, ShouldRetry(ErrUnauthorized, "payment.captured"))
	assert.False(t, ShouldRetry(ErrBadRequest, "payment.captured"))
	assert.True(t, ShouldRetry(ErrRateLimited, "payment.captured"))
	assert.True(t, ShouldRetry(ErrUpstreamServer, "payment.captured"))

	// Wrapped typed errors classify the same way.
	assert.False(t, ShouldRetry(fmt.Errorf("creating charge: %w", ErrMerchantMismatch), "payment.captured"))
	assert.True(t, ShouldRetry(fmt.Errorf("creating charge: %w", ErrRateLimited), "payment.captured"))
}

func TestShouldRetryNonRetryablePhrases(t *testing.T) {
	assert.False(t, ShouldRetry(errors.New("order belongs to a different merchant"), "order.created"))
	assert.False(t, ShouldRetry(errors.New("403 Forbidden"), "order.created"))
	assert.False(t, ShouldRetry(errors.New("request validation failed: missing email"), "order.created"))
}

func TestShouldRetryDriverCodes(t *testing.T) {
	assert.True(t, ShouldRetry(NewPayloadError(map[string]interface{}{"code": "P2025"}), "order.created"))
	assert.False(t, ShouldRetry(NewPayloadError(map[string]interface{}{"code": "P2003"}), "order.created"))

	assert.True(t, ShouldRetry(&pq.Error{Code: "55P03", Message: "lock not available"}, "order.created"))
	assert.True(t, ShouldRetry(&pq.Error{Code: "40P01", Message: "deadlock detected"}, "order.created"))
	assert.True(t, ShouldRetry(&pq.Error{Code: "08006", Message: "connection failure"}, "order.created"))
	assert.False(t, ShouldRetry(&pq.Error{Code: "23503", Message: "insert violates foreign key constraint"}, "order.created"))
}

func TestShouldRetryConnectionPhrases(t *testing.T) {
	transient := []string{
		"read tcp 10.0.0.1:5432: ECONNRESET",
		"can't reach database server at db:5432",
		"connection terminated unexpectedly",
		"engine is not yet connected",
		"context deadline exceeded: timeout",
		"operation timed out after 30s",
	}
	for _, msg := range transient {
		assert.True(t, ShouldRetry(errors.New(msg), "order.created"), msg)
	}
}

func TestShouldRetryDefaults(t *testing.T) {
	assert.False(t, ShouldRetry(nil, "order.created"))
	assert.False(t, ShouldRetry(NewPayloadError(map[string]interface{}{}), "order.created"))
	assert.False(t, ShouldRetry(errors.New("Some unknown error"), "order.created"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, KindNone, Normalize(nil).Kind)
	assert.Equal(t, KindNone, Normalize(NewPayloadError(map[string]interface{}{})).Kind)

	c := Normalize(&HTTPError{StatusCode: 502, Body: "bad gateway"})
	assert.Equal(t, KindHTTP, c.Kind)
	assert.Equal(t, 502, c.Status)

	c = Normalize(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	assert.Equal(t, KindDriver, c.Kind)
	assert.Equal(t, "40P01", c.Code)
	assert.Equal(t, "deadlock detected", c.Message)

	c = Normalize(errors.New("boom"))
	assert.Equal(t, KindGeneric, c.Kind)
	assert.Equal(t, "boom", c.Message)
}

type statusCodedError struct {
	status int
}

func (e *statusCodedError) Error() string {
	return fmt.Sprintf("provider call failed with %d", e.status)
}

func (e *statusCodedError) HTTPStatus() int {
	return e.status
}

func TestNormalizeStatusCoder(t *testing.T) {
	c := Normalize(&statusCodedError{status: 429})
	assert.Equal(t, KindHTTP, c.Kind)
	assert.Equal(t, 429, c.Status)
	assert.True(t, ShouldRetry(&statusCodedError{status: 429}, "payment.captured"))
}
