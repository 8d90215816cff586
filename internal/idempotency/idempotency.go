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

// Package idempotency mints the unique tokens attached to outbound payment
// and label-creation calls. A key identifies exactly one attempt: retrying
// the same attempt reuses the key so the processor deduplicates it, while a
// fresh attempt must mint a fresh key so it is not deduplicated away.
package idempotency

import (
	"fmt"

	"github.com/google/uuid"
)

const keyPrefix = "idem"

// Provider mints idempotency keys. The zero value is ready to use.
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

// Next returns a new cryptographically-unique key. Concurrent calls never
// collide; uniqueness comes from uuid v4's random source.
func (p *Provider) Next() string {
	return fmt.Sprintf("%s_%s", keyPrefix, uuid.New().String())
}
