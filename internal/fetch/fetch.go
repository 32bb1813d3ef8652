// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fetch tracks keyed data loads that may only be retried by an
// explicit user action, with a hard bound on attempts per key
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/metrics"
	"golang.org/x/time/rate"
)

var (
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	ErrNotMissing        = errors.New("nothing to retry")
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateMissing State = "missing"
)

// Policy bounds how a key may be retried
type Policy struct {
	MaxAttempts int
	Backoff     string
	// Minimum wait after a failure before a fixed-backoff retry
	Delay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: config.BackoffNone}
}

// PolicyFromConfig builds a policy from the retry config section
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Delay:       cfg.Delay,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", p.MaxAttempts)
	}
	switch p.Backoff {
	case config.BackoffNone, config.BackoffFixed:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	return nil
}

// Result is a point-in-time view of a key
type Result[T any] struct {
	Key      string `json:"key"`
	State    State  `json:"state"`
	Value    T      `json:"value,omitempty"`
	Attempts int    `json:"attempts"`
	// Attempts left for user retries
	Remaining int   `json:"remaining"`
	Err       error `json:"-"`
}

// CanRetry returns true when a user retry would issue another call
func (r Result[T]) CanRetry() bool {
	return r.State == StateMissing && r.Remaining > 0
}

type entry[T any] struct {
	state       State
	value       T
	attempts    int
	lastErr     error
	lastFailure time.Time
}

type Option[T any] func(*Fetcher[T])

// WithRetryRateLimit limits user retries across all keys
func WithRetryRateLimit[T any](perSecond float64) Option[T] {
	return func(f *Fetcher[T]) {
		if perSecond > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(f *Fetcher[T]) {
		f.metrics = m
	}
}

func withClock[T any](now func() time.Time) Option[T] {
	return func(f *Fetcher[T]) {
		f.now = now
	}
}

// Fetcher loads values per key. A failed load leaves the key missing until
// the user retries it, and no key is ever loaded more than MaxAttempts times
// between resets
type Fetcher[T any] struct {
	policy  Policy
	limiter *rate.Limiter
	metrics *metrics.Metrics
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry[T]
}

func New[T any](policy Policy, opts ...Option[T]) (*Fetcher[T], error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	f := &Fetcher[T]{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*entry[T]),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the value for key, loading it on first use. It never retries
// on its own: a key that is missing or already loading is returned as is
func (f *Fetcher[T]) Fetch(
	ctx context.Context,
	key string,
	fn func(context.Context) (T, error),
) Result[T] {
	f.mu.Lock()
	e, ok := f.entries[key]
	if ok {
		ret := f.resultLocked(key, e)
		f.mu.Unlock()
		return ret
	}
	e = &entry[T]{state: StateLoading}
	f.entries[key] = e
	f.mu.Unlock()
	return f.attempt(ctx, key, e, fn)
}

// Retry reloads a missing key on behalf of the user
func (f *Fetcher[T]) Retry(
	ctx context.Context,
	key string,
	fn func(context.Context) (T, error),
) (Result[T], error) {
	f.mu.Lock()
	e, ok := f.entries[key]
	if !ok || e.state != StateMissing {
		var ret Result[T]
		if ok {
			ret = f.resultLocked(key, e)
		} else {
			ret = Result[T]{Key: key, State: StateIdle, Remaining: f.policy.MaxAttempts}
		}
		f.mu.Unlock()
		return ret, ErrNotMissing
	}
	if e.attempts >= f.policy.MaxAttempts {
		ret := f.resultLocked(key, e)
		f.mu.Unlock()
		f.metrics.FetchAttempt("exhausted")
		return ret, ErrAttemptsExhausted
	}
	// Claim the attempt before waiting so concurrent retries cannot exceed
	// the bound
	e.state = StateLoading
	wait := f.backoffLocked(e)
	f.mu.Unlock()

	if err := f.waitForRetry(ctx, wait); err != nil {
		f.mu.Lock()
		e.state = StateMissing
		ret := f.resultLocked(key, e)
		f.mu.Unlock()
		return ret, err
	}
	return f.attempt(ctx, key, e, fn), nil
}

// Get returns the current state of key without loading it
func (f *Fetcher[T]) Get(key string) Result[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return Result[T]{Key: key, State: StateIdle, Remaining: f.policy.MaxAttempts}
	}
	return f.resultLocked(key, e)
}

// Reset forgets key and its attempt count
func (f *Fetcher[T]) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
}

// Invalidate forgets every key with the given prefix
func (f *Fetcher[T]) Invalidate(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			delete(f.entries, key)
		}
	}
}

// Pending returns the missing keys that can still be retried, sorted
func (f *Fetcher[T]) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, 0)
	for key, e := range f.entries {
		if e.state == StateMissing && e.attempts < f.policy.MaxAttempts {
			ret = append(ret, key)
		}
	}
	sort.Strings(ret)
	return ret
}

func (f *Fetcher[T]) attempt(
	ctx context.Context,
	key string,
	e *entry[T],
	fn func(context.Context) (T, error),
) Result[T] {
	f.mu.Lock()
	e.state = StateLoading
	e.attempts++
	attempt := e.attempts
	f.mu.Unlock()

	value, err := fn(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		e.state = StateMissing
		e.lastErr = err
		e.lastFailure = f.now()
		f.metrics.FetchAttempt("missing")
		logging.GetLogger().Warn(
			"fetch failed",
			"key", key,
			"attempt", attempt,
			"maxAttempts", f.policy.MaxAttempts,
			"error", err,
		)
	} else {
		e.state = StateLoaded
		e.value = value
		e.lastErr = nil
		f.metrics.FetchAttempt("loaded")
	}
	return f.resultLocked(key, e)
}

func (f *Fetcher[T]) backoffLocked(e *entry[T]) time.Duration {
	if f.policy.Backoff != config.BackoffFixed || e.lastFailure.IsZero() {
		return 0
	}
	return f.policy.Delay - f.now().Sub(e.lastFailure)
}

func (f *Fetcher[T]) waitForRetry(ctx context.Context, wait time.Duration) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher[T]) resultLocked(key string, e *entry[T]) Result[T] {
	return Result[T]{
		Key:       key,
		State:     e.state,
		Value:     e.value,
		Attempts:  e.attempts,
		Remaining: max(0, f.policy.MaxAttempts-e.attempts),
		Err:       e.lastErr,
	}
}
