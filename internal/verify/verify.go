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

// Package verify resolves transactions whose outcome was not reported by
// re-reading the affected state after a delay and inferring the result from
// how it changed
package verify

import (
	"context"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the expected movement of the watched value on success
type Direction int

const (
	// The value should drop to zero, e.g. a fully repaid debt
	ExpectZero Direction = iota
	ExpectDecrease
	ExpectIncrease
)

func (d Direction) String() string {
	switch d {
	case ExpectZero:
		return "zero"
	case ExpectDecrease:
		return "decrease"
	case ExpectIncrease:
		return "increase"
	}
	return "unknown"
}

// Outcome is what the observed state says about a transaction. State alone
// can prove success but never failure, since a transaction may still land
// after the last read
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeUnknown Outcome = "unknown"
)

// DefaultPollInterval is the wait between probes when the delay is zero
const DefaultPollInterval = time.Second

// Probe reads the current value of the watched state
type Probe func(ctx context.Context) (decimal.Decimal, error)

// Result is the inferred outcome of a watch
type Result struct {
	WatchId string          `json:"watchId"`
	Label   string          `json:"label"`
	Outcome Outcome         `json:"outcome"`
	Before  decimal.Decimal `json:"before"`
	After   decimal.Decimal `json:"after"`
	Err     error           `json:"-"`
}

// Callback is called once with the result of a watch
type Callback func(result Result)

// Watch is a registered post-transaction check
type Watch struct {
	Id        string
	Label     string
	Before    decimal.Decimal
	Expect    Direction
	Probe     Probe
	Callback  Callback
	CreatedAt time.Time
	cancel    context.CancelFunc
	// Set when the watch is dropped without reporting a result
	dropped bool
}

// Infer decides the outcome from the value before and after the
// transaction. Only a move in the expected direction counts, an unchanged
// or wrong-way value is left undecided
func Infer(before, after decimal.Decimal, expect Direction) Outcome {
	switch expect {
	case ExpectZero:
		if after.IsZero() && !before.IsZero() {
			return OutcomeSuccess
		}
	case ExpectDecrease:
		if after.LessThan(before) {
			return OutcomeSuccess
		}
	case ExpectIncrease:
		if after.GreaterThan(before) {
			return OutcomeSuccess
		}
	}
	return OutcomeUnknown
}

// Manager runs delayed state checks
type Manager struct {
	sync.RWMutex
	delay    time.Duration
	interval time.Duration
	ttl      time.Duration
	watches  map[string]*Watch
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type Option func(*Manager)

// WithPollInterval sets the wait between probes after the first one
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// NewManager creates a Manager that waits delay before the first probe and
// gives up on watches older than ttl
func NewManager(delay, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		delay:    delay,
		interval: delay,
		ttl:      ttl,
		watches:  make(map[string]*Watch),
		stopChan: make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.expirationLoop()
	return m
}

// Verify waits for the delay and probes until the value moves as expected.
// With a deadline on ctx it keeps probing at the poll interval and returns
// unknown once the deadline passes. Without one it probes once
func (m *Manager) Verify(
	ctx context.Context,
	before decimal.Decimal,
	expect Direction,
	probe Probe,
) Result {
	ret := Result{Before: before, After: before, Outcome: OutcomeUnknown}
	_, polling := ctx.Deadline()
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			if ret.Err == nil {
				ret.Err = ctx.Err()
			}
			return ret
		case <-m.stopChan:
			ret.Err = context.Canceled
			return ret
		}
		after, err := probe(ctx)
		if err != nil {
			ret.Err = err
		} else {
			ret.Err = nil
			ret.After = after
			if Infer(before, after, expect) == OutcomeSuccess {
				ret.Outcome = OutcomeSuccess
				return ret
			}
		}
		if !polling {
			return ret
		}
		timer.Reset(m.interval)
	}
}

// Register starts an asynchronous check and returns its watch ID. The
// callback runs exactly once, with success as soon as the value moves or
// unknown when the TTL runs out, unless the watch is unregistered or the
// manager is stopped first
func (m *Manager) Register(
	label string,
	before decimal.Decimal,
	expect Direction,
	probe Probe,
	cb Callback,
) string {
	m.Lock()
	defer m.Unlock()
	if m.stopped {
		return ""
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if m.ttl > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.ttl)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	watch := &Watch{
		Id:        uuid.NewString(),
		Label:     label,
		Before:    before,
		Expect:    expect,
		Probe:     probe,
		Callback:  cb,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	m.watches[watch.Id] = watch

	logger := logging.GetLogger()
	logger.Debug(
		"registered verification watch",
		"watchId", watch.Id,
		"label", label,
		"before", before.String(),
		"expect", expect.String(),
	)

	m.wg.Add(1)
	go m.run(ctx, watch)
	return watch.Id
}

func (m *Manager) run(ctx context.Context, watch *Watch) {
	defer m.wg.Done()
	defer watch.cancel()
	result := m.Verify(ctx, watch.Before, watch.Expect, watch.Probe)
	result.WatchId = watch.Id
	result.Label = watch.Label

	m.Lock()
	delete(m.watches, watch.Id)
	dropped := watch.dropped || m.stopped
	m.Unlock()
	if dropped {
		return
	}

	logger := logging.GetLogger()
	logger.Info(
		"verification finished",
		"watchId", watch.Id,
		"label", watch.Label,
		"outcome", string(result.Outcome),
		"after", result.After.String(),
	)
	if watch.Callback != nil {
		watch.Callback(result)
	}
}

// Unregister cancels a watch by its ID
func (m *Manager) Unregister(watchId string) {
	m.Lock()
	defer m.Unlock()
	m.unregisterLocked(watchId)
}

// unregisterLocked removes a watch (caller must hold lock)
func (m *Manager) unregisterLocked(watchId string) {
	watch, ok := m.watches[watchId]
	if !ok {
		return
	}
	watch.dropped = true
	watch.cancel()
	delete(m.watches, watchId)

	logger := logging.GetLogger()
	logger.Debug("unregistered verification watch", "watchId", watchId)
}

// expireWatches cancels watches that outlived the TTL. Their callbacks
// still run with an unknown outcome
func (m *Manager) expireWatches() {
	m.Lock()
	defer m.Unlock()
	if m.ttl <= 0 {
		return
	}
	now := time.Now()
	for _, watch := range m.watches {
		if now.Sub(watch.CreatedAt) > m.ttl {
			watch.cancel()
		}
	}
}

func (m *Manager) expirationLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.expireWatches()
		case <-m.stopChan:
			return
		}
	}
}

// Stop cancels all watches and waits for them to finish (idempotent - safe
// to call multiple times)
func (m *Manager) Stop() {
	m.Lock()
	if m.stopped {
		m.Unlock()
		return
	}
	m.stopped = true
	close(m.stopChan)
	for _, watch := range m.watches {
		watch.cancel()
	}
	m.Unlock()
	m.wg.Wait()
}

// WatchCount returns the number of active watches
func (m *Manager) WatchCount() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.watches)
}
