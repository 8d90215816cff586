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

// Package circuit implements a three-state circuit breaker used to isolate
// the rest of the system from a failing dependency. One Breaker guards one
// logical dependency ("database", "shippo", "payment"); breaker state lives
// in process memory and is intentionally not durable across restarts.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker's position in the trip/recover cycle.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Settings controls when a breaker trips and how it recovers.
type Settings struct {
	// FailureThreshold is the number of failures inside FailureWindow that
	// moves CLOSED to OPEN.
	FailureThreshold int
	// FailureWindow is the trailing window failures are counted in.
	FailureWindow time.Duration
	// RecoveryTimeout is how long the breaker stays OPEN before the next
	// state query observes HALF_OPEN.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive HALF_OPEN successes that
	// closes the breaker again.
	SuccessThreshold int
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.FailureWindow <= 0 {
		s.FailureWindow = time.Minute
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	return s
}

// CircuitOpenError is returned by call sites that short-circuit instead of
// attempting a call while the breaker is OPEN.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s is unavailable, retry after %s", e.Dependency, e.RetryAfter.Round(time.Second))
}

// Snapshot is the read-only view of a breaker exposed to health checks and
// dashboards.
type Snapshot struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	TripCount        uint64     `json:"trip_count"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastTransitionAt time.Time  `json:"last_transition_at"`
	RetryAfterMs     int64      `json:"retry_after_ms"`
}

// Breaker is a single circuit breaker. All methods are safe for concurrent
// use; none of them block.
type Breaker struct {
	name     string
	settings Settings

	mu                sync.Mutex
	state             State
	failures          []time.Time
	halfOpenSuccesses int
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
	lastTransitionAt  time.Time
	tripCount         uint64

	now func() time.Time
}

// NewBreaker returns a CLOSED breaker for the named dependency.
func NewBreaker(name string, settings Settings) *Breaker {
	b := &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		state:    StateClosed,
		now:      time.Now,
	}
	b.lastTransitionAt = b.now()
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An elapsed recovery timeout moves OPEN to
// HALF_OPEN here; there is no background timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now())
}

// CanExecute reports whether a call may be issued. It is true in CLOSED and
// HALF_OPEN; HALF_OPEN admits the probe traffic needed to test recovery, and
// callers are expected to issue one attempt per probe rather than flood it.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now()) != StateOpen
}

// RecordSuccess registers a successful call. A CLOSED-state success clears
// the rolling failure window; SuccessThreshold consecutive HALF_OPEN
// successes close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastSuccessAt = now

	switch b.currentState(now) {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.SuccessThreshold {
			b.transition(StateClosed, now)
		}
	case StateClosed:
		b.failures = b.failures[:0]
	}
}

// RecordFailure registers a failed call. Callers must pre-filter: only
// failures that indicate the dependency itself is unhealthy belong here, a
// validation error from bad input must not trip the breaker.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureAt = now

	switch b.currentState(now) {
	case StateHalfOpen:
		// One failed probe re-opens immediately.
		b.transition(StateOpen, now)
	case StateClosed:
		b.pruneFailures(now)
		b.failures = append(b.failures, now)
		if len(b.failures) >= b.settings.FailureThreshold {
			b.transition(StateOpen, now)
		}
	}
	_ = err
}

// RetryAfter returns how long callers should wait before the dependency is
// probed again. Zero when the breaker is not OPEN.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.currentState(now) != StateOpen {
		return 0
	}
	remaining := b.settings.RecoveryTimeout - now.Sub(b.lastTransitionAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// OpenError builds the typed short-circuit result for this breaker.
func (b *Breaker) OpenError() *CircuitOpenError {
	return &CircuitOpenError{Dependency: b.name, RetryAfter: b.RetryAfter()}
}

// Reset forces the breaker back to CLOSED and clears its failure history.
// This is the explicit administrative override; normal recovery is timeout
// driven.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, b.now())
}

// Snapshot returns the observable state of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)
	b.pruneFailures(now)

	s := Snapshot{
		Name:             b.name,
		State:            state,
		FailureCount:     len(b.failures),
		TripCount:        b.tripCount,
		LastTransitionAt: b.lastTransitionAt,
	}
	if !b.lastFailureAt.IsZero() {
		at := b.lastFailureAt
		s.LastFailureAt = &at
	}
	if !b.lastSuccessAt.IsZero() {
		at := b.lastSuccessAt
		s.LastSuccessAt = &at
	}
	if state == StateOpen {
		remaining := b.settings.RecoveryTimeout - now.Sub(b.lastTransitionAt)
		if remaining > 0 {
			s.RetryAfterMs = remaining.Milliseconds()
		}
	}
	return s
}

// currentState evaluates the lazy OPEN -> HALF_OPEN promotion. Callers must
// hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.lastTransitionAt) >= b.settings.RecoveryTimeout {
		b.transition(StateHalfOpen, now)
	}
	return b.state
}

// transition moves the breaker to the target state. Callers must hold b.mu.
func (b *Breaker) transition(to State, now time.Time) {
	if to == StateOpen && b.state != StateOpen {
		b.tripCount++
	}
	b.state = to
	b.lastTransitionAt = now
	b.halfOpenSuccesses = 0
	if to == StateClosed {
		b.failures = b.failures[:0]
	}
}

// pruneFailures drops failures that slid out of the trailing window. Callers
// must hold b.mu.
func (b *Breaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-b.settings.FailureWindow)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
}
