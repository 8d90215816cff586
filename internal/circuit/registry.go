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

package circuit

import (
	"sort"
	"sync"
)

// Registry holds one breaker per logical dependency name. It is constructed
// once at process start and passed by reference to callers; breakers are
// independent of one another, a database trip never affects the shipping
// breaker.
type Registry struct {
	mu       sync.RWMutex
	defaults Settings
	breakers map[string]*Breaker
}

// NewRegistry returns a registry whose breakers are created with the given
// default settings.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Names returns the registered dependency names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the observable state of every registered breaker, keyed
// by dependency name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Reset closes the named breaker. It reports whether the breaker existed.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}
