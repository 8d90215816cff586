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

// Package retryclass decides whether an at-least-once delivery mechanism
// (webhooks) should retry after a processing error. Errors arrive in many
// shapes: HTTP statuses, provider payloads, database driver codes, free-text
// messages. Normalize folds every shape into one ClassifiedError before the
// decision table runs so no branch re-derives shape sniffing.
package retryclass

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind tags the origin of a normalized error.
type Kind string

const (
	KindNone    Kind = "none"    // nil or empty error value
	KindHTTP    Kind = "http"    // carries an HTTP status code
	KindDomain  Kind = "domain"  // one of the typed provider errors below
	KindDriver  Kind = "driver"  // carries a database/ORM driver code
	KindGeneric Kind = "generic" // plain error, message only
)

// ClassifiedError is the canonical form every incoming error is adapted to.
type ClassifiedError struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
}

// Typed provider errors. Upstream clients return these (possibly wrapped)
// so classification does not depend on message text for known conditions.
var (
	ErrMerchantMismatch = errors.New("merchant mismatch")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBadRequest       = errors.New("bad request")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstreamServer   = errors.New("upstream server error")
)

// HTTPError is an upstream call failure with a known status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// StatusCoder is implemented by errors that know their HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// PayloadError wraps a decoded provider error payload whose shape is not
// known ahead of time. The status may sit under any of the conventional keys
// and a driver-style code may sit under "code".
type PayloadError struct {
	Payload map[string]interface{}
}

func NewPayloadError(payload map[string]interface{}) *PayloadError {
	return &PayloadError{Payload: payload}
}

func (e *PayloadError) Error() string {
	if msg := e.message(); msg != "" {
		return msg
	}
	return "upstream error payload"
}

func (e *PayloadError) status() int {
	for _, key := range []string{"statusCode", "status", "httpStatusCode"} {
		if v, ok := e.Payload[key]; ok {
			switch n := v.(type) {
			case int:
				return n
			case int64:
				return int(n)
			case float64:
				return int(n)
			}
		}
	}
	return 0
}

func (e *PayloadError) code() string {
	if v, ok := e.Payload["code"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e *PayloadError) message() string {
	for _, key := range []string{"message", "error"} {
		if v, ok := e.Payload[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Normalize adapts any error value into a ClassifiedError. It never fails;
// unrecognized errors come back as KindGeneric with the message preserved.
func Normalize(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: KindNone}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ClassifiedError{Kind: KindHTTP, Status: httpErr.StatusCode, Message: err.Error()}
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return ClassifiedError{Kind: KindHTTP, Status: coder.HTTPStatus(), Message: err.Error()}
	}

	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		status := payloadErr.status()
		code := payloadErr.code()
		msg := payloadErr.message()
		switch {
		case status != 0:
			return ClassifiedError{Kind: KindHTTP, Status: status, Code: code, Message: msg}
		case code != "":
			return ClassifiedError{Kind: KindDriver, Code: code, Message: msg}
		case msg != "":
			return ClassifiedError{Kind: KindGeneric, Message: msg}
		default:
			return ClassifiedError{Kind: KindNone}
		}
	}

	for _, domain := range []struct {
		err  error
		code string
	}{
		{ErrMerchantMismatch, "merchant_mismatch"},
		{ErrUnauthorized, "unauthorized"},
		{ErrBadRequest, "bad_request"},
		{ErrRateLimited, "rate_limited"},
		{ErrUpstreamServer, "upstream_server"},
	} {
		if errors.Is(err, domain.err) {
			return ClassifiedError{Kind: KindDomain, Code: domain.code, Message: err.Error()}
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ClassifiedError{Kind: KindDriver, Code: string(pqErr.Code), Message: pqErr.Message}
	}

	return ClassifiedError{Kind: KindGeneric, Message: err.Error()}
}
