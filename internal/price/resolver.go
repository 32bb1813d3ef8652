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

package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/metrics"
	"github.com/blinklabs-io/tally/internal/storage"
	"github.com/shopspring/decimal"
)

// ErrPriceUnknown is returned when no source could price a pair. Actions
// depending on the price must be blocked
var ErrPriceUnknown = errors.New("price unknown")

// Source identifies where a quote came from
type Source string

const (
	SourceOnchain  Source = config.PriceSourceOnchain
	SourceOffchain Source = config.PriceSourceOffchain
	SourceManual   Source = "manual"
)

// Quote is a resolved price of Base in terms of Quote
type Quote struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Source    Source          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// OffchainSource provides USD prices keyed by normalized coin type. Missing
// coins are absent from the result
type OffchainSource interface {
	USDPrices(ctx context.Context, coinTypes []string) (map[string]decimal.Decimal, error)
}

// OnchainSource provides the current pool state for a pair on a venue
type OnchainSource interface {
	Pool(ctx context.Context, venue string, tokenA, tokenB common.Token) (*PoolState, error)
}

// OverrideStore persists manual overrides
type OverrideStore interface {
	SaveSnapshot(kind, id string, v any) error
	DeleteSnapshot(kind, id string) error
	LoadAllSnapshots(kind string, fn func(id string, data []byte) error) error
}

type override struct {
	Pair  string          `json:"pair"`
	Price decimal.Decimal `json:"price"`
}

type Option func(*Resolver)

// WithCacheTTL sets how long resolved quotes are reused
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithSourceOrder sets the per-venue source order lookup
func WithSourceOrder(fn func(venue string) []string) Option {
	return func(r *Resolver) {
		r.sourceOrder = fn
	}
}

// WithOverrideStore persists manual overrides
func WithOverrideStore(store OverrideStore) Option {
	return func(r *Resolver) {
		r.store = store
	}
}

// WithMetrics records resolution outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func withClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver resolves human prices for token pairs across off-chain and
// on-chain sources
type Resolver struct {
	offchain    OffchainSource
	onchain     OnchainSource
	store       OverrideStore
	metrics     *metrics.Metrics
	sourceOrder func(venue string) []string
	cacheTTL    time.Duration
	now         func() time.Time
	mu          sync.Mutex
	cache       map[string]Quote
	overrides   map[string]decimal.Decimal
}

// NewResolver creates a new Resolver. Either source may be nil
func NewResolver(
	offchain OffchainSource,
	onchain OnchainSource,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		offchain: offchain,
		onchain:  onchain,
		sourceOrder: func(string) []string {
			return []string{config.PriceSourceOffchain, config.PriceSourceOnchain}
		},
		cacheTTL:  10 * time.Second,
		now:       time.Now,
		cache:     make(map[string]Quote),
		overrides: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadOverrides restores persisted manual overrides
func (r *Resolver) LoadOverrides() error {
	if r.store == nil {
		return nil
	}
	loaded := make(map[string]decimal.Decimal)
	err := r.store.LoadAllSnapshots(
		storage.KindPriceOverride,
		func(id string, data []byte) error {
			var o override
			if err := json.Unmarshal(data, &o); err != nil {
				return nil // Skip invalid entries
			}
			loaded[id] = o.Price
			return nil
		},
	)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for k, v := range loaded {
		r.overrides[k] = v
	}
	r.mu.Unlock()
	logging.GetLogger().Info("loaded price overrides", "count", len(loaded))
	return nil
}

// SetOverride pins the price of a in terms of b
func (r *Resolver) SetOverride(a, b common.Token, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("override price must be positive: %s", price)
	}
	key := pairKey(a, b)
	r.mu.Lock()
	r.overrides[key] = price
	r.invalidatePairLocked(a, b)
	r.mu.Unlock()
	if r.store != nil {
		return r.store.SaveSnapshot(
			storage.KindPriceOverride,
			key,
			override{Pair: pairName(a, b), Price: price},
		)
	}
	return nil
}

// ClearOverride removes a manual override for the pair in either orientation
func (r *Resolver) ClearOverride(a, b common.Token) error {
	r.mu.Lock()
	delete(r.overrides, pairKey(a, b))
	delete(r.overrides, pairKey(b, a))
	r.invalidatePairLocked(a, b)
	r.mu.Unlock()
	if r.store != nil {
		if err := r.store.DeleteSnapshot(storage.KindPriceOverride, pairKey(a, b)); err != nil {
			return err
		}
		return r.store.DeleteSnapshot(storage.KindPriceOverride, pairKey(b, a))
	}
	return nil
}

// Resolve returns the price of a in terms of b (b per a) on the given venue
func (r *Resolver) Resolve(
	ctx context.Context,
	venue string,
	a, b common.Token,
) (Quote, error) {
	logger := logging.GetLogger()
	pair := pairName(a, b)

	r.mu.Lock()
	if cached, ok := r.cache[cacheKey(venue, a, b)]; ok {
		if r.now().Sub(cached.FetchedAt) < r.cacheTTL {
			r.mu.Unlock()
			return cached, nil
		}
		delete(r.cache, cacheKey(venue, a, b))
	}
	if price, ok := r.overrides[pairKey(a, b)]; ok {
		r.mu.Unlock()
		return r.remember(venue, a, b, Quote{
			Pair:      pair,
			Price:     price,
			Source:    SourceManual,
			FetchedAt: r.now(),
		}), nil
	}
	if price, ok := r.overrides[pairKey(b, a)]; ok {
		r.mu.Unlock()
		return r.remember(venue, a, b, Quote{
			Pair:      pair,
			Price:     decimal.NewFromInt(1).DivRound(price, pricePrecision),
			Source:    SourceManual,
			FetchedAt: r.now(),
		}), nil
	}
	r.mu.Unlock()

	usd := &usdLookup{resolver: r, a: a, b: b}
	var errs []error
	for _, source := range r.sourceOrder(venue) {
		var quote Quote
		var err error
		switch source {
		case config.PriceSourceOffchain:
			quote, err = r.resolveOffchain(ctx, usd, pair)
		case config.PriceSourceOnchain:
			quote, err = r.resolveOnchain(ctx, venue, a, b, usd, pair)
		default:
			err = fmt.Errorf("unknown price source %q", source)
		}
		if err == nil {
			r.metrics.PriceResolved(venue, string(quote.Source))
			return r.remember(venue, a, b, quote), nil
		}
		logger.Debug(
			"price source failed",
			"venue", venue,
			"pair", pair,
			"source", source,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", source, err))
	}
	r.metrics.PriceResolved(venue, "unknown")
	return Quote{}, fmt.Errorf("%s on %s: %w", pair, venue, errors.Join(append([]error{ErrPriceUnknown}, errs...)...))
}

// Invalidate drops all cached quotes
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Quote)
}

func (r *Resolver) resolveOffchain(
	ctx context.Context,
	usd *usdLookup,
	pair string,
) (Quote, error) {
	usdA, usdB, err := usd.get(ctx)
	if err != nil {
		return Quote{}, err
	}
	if !usdA.IsPositive() || !usdB.IsPositive() {
		return Quote{}, errors.New("USD price missing for one or both tokens")
	}
	return Quote{
		Pair:      pair,
		Price:     usdA.DivRound(usdB, pricePrecision),
		Source:    SourceOffchain,
		FetchedAt: r.now(),
	}, nil
}

func (r *Resolver) resolveOnchain(
	ctx context.Context,
	venue string,
	a, b common.Token,
	usd *usdLookup,
	pair string,
) (Quote, error) {
	if r.onchain == nil {
		return Quote{}, errors.New("no on-chain source configured")
	}
	pool, err := r.onchain.Pool(ctx, venue, a, b)
	if err != nil {
		return Quote{}, err
	}
	var price decimal.Decimal
	switch {
	case pool.TokenX.Is(a.CoinType) && pool.TokenY.Is(b.CoinType):
		price, err = pool.PriceXY(a.Decimals, b.Decimals)
	case pool.TokenX.Is(b.CoinType) && pool.TokenY.Is(a.CoinType):
		price, err = pool.PriceYX(b.Decimals, a.Decimals)
	default:
		// Pool token identity did not decide the orientation. Use the
		// off-chain ratio as a hint for direction only
		price, err = r.orientByHint(ctx, pool, a, b, usd)
	}
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Pair:      pair,
		Price:     price,
		Source:    SourceOnchain,
		FetchedAt: r.now(),
	}, nil
}

func (r *Resolver) orientByHint(
	ctx context.Context,
	pool *PoolState,
	a, b common.Token,
	usd *usdLookup,
) (decimal.Decimal, error) {
	usdA, usdB, err := usd.get(ctx)
	if err != nil || !usdA.IsPositive() || !usdB.IsPositive() {
		return decimal.Zero, fmt.Errorf(
			"cannot determine orientation of pool %s without an off-chain hint",
			pool.PoolId,
		)
	}
	hint, _ := usdA.Div(usdB).Float64()
	// Candidate where X is a
	direct, err := pool.PriceXY(a.Decimals, b.Decimals)
	if err != nil {
		return decimal.Zero, err
	}
	// Candidate where X is b
	inverse, err := pool.PriceYX(b.Decimals, a.Decimals)
	if err != nil {
		return decimal.Zero, err
	}
	directF, _ := direct.Float64()
	inverseF, _ := inverse.Float64()
	if logDistance(directF, hint) <= logDistance(inverseF, hint) {
		return direct, nil
	}
	return inverse, nil
}

func (r *Resolver) remember(venue string, a, b common.Token, quote Quote) Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey(venue, a, b)] = quote
	return quote
}

// invalidatePairLocked drops cached quotes for the pair on every venue
func (r *Resolver) invalidatePairLocked(a, b common.Token) {
	suffixes := []string{"|" + pairKey(a, b), "|" + pairKey(b, a)}
	for key := range r.cache {
		for _, suffix := range suffixes {
			if strings.HasSuffix(key, suffix) {
				delete(r.cache, key)
			}
		}
	}
}

// usdLookup fetches off-chain USD prices at most once per resolution
type usdLookup struct {
	resolver *Resolver
	a, b     common.Token
	done     bool
	usdA     decimal.Decimal
	usdB     decimal.Decimal
	err      error
}

func (u *usdLookup) get(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	if u.done {
		return u.usdA, u.usdB, u.err
	}
	u.done = true
	if u.resolver.offchain == nil {
		u.err = errors.New("no off-chain source configured")
		return u.usdA, u.usdB, u.err
	}
	prices, err := u.resolver.offchain.USDPrices(ctx, []string{u.a.CoinType, u.b.CoinType})
	if err != nil {
		u.err = err
		return u.usdA, u.usdB, u.err
	}
	u.usdA = prices[u.a.Key()]
	u.usdB = prices[u.b.Key()]
	return u.usdA, u.usdB, nil
}

func logDistance(price, hint float64) float64 {
	if price <= 0 || hint <= 0 {
		return math.Inf(1)
	}
	return math.Abs(math.Log(price / hint))
}

func pairKey(a, b common.Token) string {
	return a.Key() + ":" + b.Key()
}

func pairName(a, b common.Token) string {
	return a.String() + "/" + b.String()
}

func cacheKey(venue string, a, b common.Token) string {
	return venue + "|" + pairKey(a, b)
}
