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

// Package balance caches wallet coin balances per account. Lookups never
// fail: provider errors degrade to stale or zero balances.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/metrics"
	"github.com/blinklabs-io/tally/internal/storage"
	"github.com/shopspring/decimal"
)

const DefaultTTL = 30 * time.Second

// Source fetches every coin balance held by an account
type Source interface {
	CoinBalances(ctx context.Context, account string) ([]common.AssetBalance, error)
}

// SnapshotStore persists balance snapshots
type SnapshotStore interface {
	SaveSnapshot(kind, id string, v any) error
	LoadSnapshot(kind, id string, v any) (time.Time, bool, error)
}

type entry struct {
	coins     []common.AssetBalance
	fetchedAt time.Time
}

// Cache holds per-account balances with a freshness window
type Cache struct {
	source  Source
	store   SnapshotStore
	metrics *metrics.Metrics
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]*entry
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

func WithStore(store SnapshotStore) Option {
	return func(c *Cache) {
		c.store = store
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:  source,
		ttl:     DefaultTTL,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetBalance returns the summed display amount of every coin held by account
// whose type matches one of coinTypes. It returns zero when no wallet is
// connected, no candidates are given or nothing matches
func (c *Cache) GetBalance(
	ctx context.Context,
	account string,
	coinTypes []string,
	forceRefresh bool,
) decimal.Decimal {
	if account == "" || len(coinTypes) == 0 {
		return decimal.Zero
	}
	coins := c.ListBalances(ctx, account, forceRefresh)
	wanted := make(map[string]struct{}, len(coinTypes))
	for _, coinType := range coinTypes {
		wanted[common.NormalizeCoinType(coinType)] = struct{}{}
	}
	total := decimal.Zero
	for _, coin := range coins {
		if _, ok := wanted[coin.Key()]; ok {
			total = total.Add(coin.Amount())
		}
	}
	return total
}

// ListBalances returns every coin held by account
func (c *Cache) ListBalances(
	ctx context.Context,
	account string,
	forceRefresh bool,
) []common.AssetBalance {
	if account == "" {
		return nil
	}
	logger := logging.GetLogger()

	c.mu.RLock()
	cached, ok := c.entries[account]
	c.mu.RUnlock()
	if ok && !forceRefresh && c.now().Sub(cached.fetchedAt) < c.ttl {
		c.metrics.BalanceLookup("hit")
		return cached.coins
	}

	coins, err := c.source.CoinBalances(ctx, account)
	if err != nil {
		stale := c.stale(account, cached)
		logger.Warn(
			"failed to fetch balances, serving stale data",
			"account", account,
			"staleCoins", len(stale),
			"error", err,
		)
		c.metrics.BalanceLookup("stale")
		return stale
	}
	c.metrics.BalanceLookup("miss")

	c.mu.Lock()
	// Last writer for an account wins
	c.entries[account] = &entry{coins: coins, fetchedAt: c.now()}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSnapshot(storage.KindBalances, account, coins); err != nil {
			logger.Error(
				"failed to persist balances",
				"account", account,
				"error", err,
			)
		}
	}
	return coins
}

// Invalidate drops the cached balances for account
func (c *Cache) Invalidate(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, account)
}

// stale returns the best available data after a failed fetch
func (c *Cache) stale(account string, cached *entry) []common.AssetBalance {
	if cached != nil {
		return cached.coins
	}
	if c.store == nil {
		return nil
	}
	var coins []common.AssetBalance
	_, found, err := c.store.LoadSnapshot(storage.KindBalances, account, &coins)
	if err != nil || !found {
		return nil
	}
	return coins
}
