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
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/caterly/storefront/internal/apierror"
)

// Phrases that mean the backend could not be reached at all. Narrower than
// transientPhrases: a lock wait or statement timeout is a busy database, not
// a dead one, and must not open the database breaker.
var connectionFailurePhrases = []string{
	"connection refused",
	"connection reset",
	"connection terminated",
	"bad connection",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"can't reach database server",
	"engine is not yet connected",
}

// IsConnectionFailure reports whether err means the backend was unreachable.
// The database breaker records only these; not-found, conflict, validation
// and lock-wait errors pass through without counting against it.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(apierror.APIError); ok {
		if cause, ok := apiErr.Details.(error); ok {
			return IsConnectionFailure(cause)
		}
		return false
	}

	classified := Normalize(err)
	if strings.HasPrefix(classified.Code, "08") { // connection_exception class
		return true
	}
	message := strings.ToLower(classified.Message)
	for _, phrase := range connectionFailurePhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

// Phrases that mark an error permanent regardless of where it came from.
var nonRetryablePhrases = []string{
	"merchant mismatch",
	"different merchant",
	"forbidden",
	"validation failed",
}

// Phrases that mark a transient connectivity problem.
var transientPhrases = []string{
	"connection",
	"econnreset",
	"can't reach database server",
	"connection terminated",
	"engine is not yet connected",
	"timeout",
	"timed out after",
}

// Driver codes seen from our own Postgres driver and from upstream services
// that surface ORM-style codes in their webhook failure payloads.
var retryableDriverCodes = map[string]bool{
	"P2025": true, // row vanished between read and write, a race worth retrying
	"08000": true, // connection_exception
	"08001": true,
	"08003": true,
	"08004": true,
	"08006": true,
	"08007": true,
	"08P01": true,
	"57014": true, // query_canceled (statement timeout)
	"55P03": true, // lock_not_available
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

var nonRetryableDriverCodes = map[string]bool{
	"P2003": true, // foreign key constraint, permanent
	"23503": true, // foreign_key_violation
	"23505": true, // unique_violation
}

// ShouldRetry reports whether a webhook processing error is worth a redelivery.
// It is total and side-effect free apart from a debug log line; eventType is
// used only for that log line, never for branching.
//
// The default for unrecognized errors is false: indiscriminate retries on
// permanent errors cause duplicate side effects (a redelivered webhook can
// create a second order), so unknown errors are treated as permanent.
func ShouldRetry(err error, eventType string) bool {
	decision := decide(Normalize(err))
	logrus.WithFields(logrus.Fields{
		"event_type": eventType,
		"retry":      decision,
	}).Debugf("classified webhook error: %v", err)
	return decision
}

func decide(c ClassifiedError) bool {
	if c.Kind == KindNone {
		return false
	}

	if c.Status != 0 {
		switch {
		case c.Status == 400 || c.Status == 401 || c.Status == 403 || c.Status == 404:
			return false
		case c.Status == 429:
			return true
		case c.Status >= 500:
			return true
		}
	}

	if c.Kind == KindDomain {
		switch c.Code {
		case "merchant_mismatch", "unauthorized", "bad_request":
			return false
		case "rate_limited", "upstream_server":
			return true
		}
	}

	message := strings.ToLower(c.Message)
	for _, phrase := range nonRetryablePhrases {
		if strings.Contains(message, phrase) {
			return false
		}
	}

	if c.Code != "" {
		if retryableDriverCodes[c.Code] {
			return true
		}
		if nonRetryableDriverCodes[c.Code] {
			return false
		}
	}

	for _, phrase := range transientPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}

	return false
}
