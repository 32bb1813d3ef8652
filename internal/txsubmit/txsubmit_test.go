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

package txsubmit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/provider"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/verify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0xacct"

var (
	tokenUSDC = common.Token{CoinType: "0x5::usdc::USDC", Symbol: "USDC", Decimals: 6}
	tokenSUI  = common.Token{CoinType: "0x2::sui::SUI", Symbol: "SUI", Decimals: 9}
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fakeBuilder struct {
	requests []*provider.BuildRequest
	err      error
}

func (f *fakeBuilder) Build(ctx context.Context, req *provider.BuildRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "AAEC", nil
}

type fakeExecutor struct {
	account string
	exec    *provider.Execution
	err     error
	calls   int
}

func (f *fakeExecutor) Account() string {
	return f.account
}

func (f *fakeExecutor) SignAndExecute(ctx context.Context, txBytes string) (*provider.Execution, error) {
	f.calls++
	return f.exec, f.err
}

type fakeBalances struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal
	invalidated []string
}

func (f *fakeBalances) GetBalance(ctx context.Context, account string, coinTypes []string, forceRefresh bool) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, coinType := range coinTypes {
		total = total.Add(f.balances[common.NormalizeCoinType(coinType)])
	}
	return total
}

func (f *fakeBalances) Invalidate(account string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, account)
}

type fakeSource struct {
	mu  sync.Mutex
	raw []position.RawObligation
}

func (f *fakeSource) FetchObligations(ctx context.Context, account string) ([]position.RawObligation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw, nil
}

func (f *fakeSource) setDebt(amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Replace rather than mutate, cached obligations share the old slice
	f.raw[0].Borrows = []position.Entry{
		{Symbol: "USDC", CoinType: tokenUSDC.CoinType, Amount: amount, USDValue: amount},
	}
}

type fakeDebouncer struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeDebouncer) Trigger(key string, fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return true
}

func (f *fakeDebouncer) triggered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.keys...)
}

type fakePrices struct {
	err error
}

func (f *fakePrices) Resolve(ctx context.Context, venue string, a, b common.Token) (price.Quote, error) {
	if f.err != nil {
		return price.Quote{}, f.err
	}
	return price.Quote{Pair: "SUI/USDC", Price: dec("2"), Source: price.SourceOffchain}, nil
}

type harness struct {
	submitter *Submitter
	builder   *fakeBuilder
	executor  *fakeExecutor
	balances  *fakeBalances
	source    *fakeSource
	positions *position.Aggregator
	debouncer *fakeDebouncer
	prices    *fakePrices
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	source := &fakeSource{raw: []position.RawObligation{
		{
			ObligationId: "0xob1",
			Collaterals: []position.Entry{
				{Symbol: "SUI", CoinType: tokenSUI.CoinType, Amount: dec("100"), USDValue: dec("200")},
			},
			Borrows: []position.Entry{
				{Symbol: "USDC", CoinType: tokenUSDC.CoinType, Amount: dec("100"), USDValue: dec("100")},
			},
		},
		{
			ObligationId: "0xempty",
			Collaterals:  []position.Entry{},
			Borrows:      []position.Entry{},
		},
		{
			ObligationId: "0xlocked",
			Collaterals: []position.Entry{
				{Symbol: "SUI", CoinType: tokenSUI.CoinType, Amount: dec("10"), USDValue: dec("20")},
			},
			Borrows: []position.Entry{
				{Symbol: "USDC", CoinType: tokenUSDC.CoinType, Amount: dec("5"), USDValue: dec("5")},
			},
			Signals: position.LockSignals{IncentiveStaked: true},
		},
	}}
	positions := position.NewAggregator(source, nil)
	t.Cleanup(positions.Stop)
	verifier := verify.NewManager(0, time.Minute)
	t.Cleanup(verifier.Stop)
	h := &harness{
		builder: &fakeBuilder{},
		executor: &fakeExecutor{
			account: testAccount,
			exec:    &provider.Execution{Digest: "Dgst1", Status: provider.ExecutionSuccess},
		},
		balances: &fakeBalances{balances: map[string]decimal.Decimal{
			tokenUSDC.Key(): dec("500"),
			tokenSUI.Key():  dec("50"),
		}},
		source:    source,
		positions: positions,
		debouncer: &fakeDebouncer{},
		prices:    &fakePrices{},
	}
	h.submitter = New(Deps{
		Builder:     h.builder,
		Executor:    h.executor,
		Balances:    h.balances,
		Positions:   positions,
		Prices:      h.prices,
		Verifier:    verifier,
		Debouncer:   h.debouncer,
		ExplorerUrl: "https://suiscan.xyz/mainnet",
	})
	return h
}

func repay(amount string) *Action {
	return &Action{
		Type:         ActionRepay,
		ObligationId: "0xob1",
		Token:        tokenUSDC,
		Amount:       dec(amount),
	}
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	var valErr *txerr.ValidationError
	require.True(t, errors.As(err, &valErr), "expected validation error, got %v", err)
	assert.Equal(t, field, valErr.Field)
}

func TestSubmitRequiresWallet(t *testing.T) {
	h := newHarness(t)
	h.executor.account = ""
	_, err := h.submitter.Submit(context.Background(), repay("10"))
	requireValidation(t, err, "wallet")
}

func TestSubmitValidation(t *testing.T) {
	testCases := []struct {
		name   string
		action *Action
		field  string
	}{
		{
			name:   "unknown action",
			action: &Action{Type: "stake", Token: tokenUSDC, Amount: dec("1")},
			field:  "type",
		},
		{
			name:   "zero amount",
			action: repay("0"),
			field:  "amount",
		},
		{
			name:   "below smallest unit",
			action: repay("0.0000001"),
			field:  "amount",
		},
		{
			name:   "exceeds debt",
			action: repay("150"),
			field:  "amount",
		},
		{
			name: "insufficient balance",
			action: &Action{
				Type:         ActionAddCollateral,
				ObligationId: "0xob1",
				Token:        tokenSUI,
				Amount:       dec("51"),
			},
			field: "amount",
		},
		{
			name: "borrow against empty obligation",
			action: &Action{
				Type:         ActionBorrow,
				ObligationId: "0xempty",
				Token:        tokenUSDC,
				Amount:       dec("1"),
			},
			field: "obligation",
		},
		{
			name: "missing obligation",
			action: &Action{
				Type:         ActionBorrow,
				ObligationId: "0xnope",
				Token:        tokenUSDC,
				Amount:       dec("1"),
			},
			field: "obligation",
		},
		{
			name: "withdraw more collateral than deposited",
			action: &Action{
				Type:         ActionWithdrawCollateral,
				ObligationId: "0xob1",
				Token:        tokenSUI,
				Amount:       dec("101"),
			},
			field: "amount",
		},
		{
			name:   "unlock unlocked obligation",
			action: &Action{Type: ActionUnlock, ObligationId: "0xob1"},
			field:  "obligation",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.submitter.Submit(context.Background(), tc.action)
			requireValidation(t, err, tc.field)
			assert.Empty(t, h.builder.requests, "nothing may be built for an invalid action")
		})
	}
}

func TestSubmitFullRepaySuccess(t *testing.T) {
	h := newHarness(t)
	res, err := h.submitter.Submit(context.Background(), repay("100"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "https://suiscan.xyz/mainnet/txblock/Dgst1", res.ExplorerUrl)

	require.Len(t, h.builder.requests, 1)
	assert.Equal(t, "100000000", h.builder.requests[0].Amount)
	assert.Equal(t, "repay", h.builder.requests[0].Action)
	assert.Equal(t, testAccount, h.builder.requests[0].Sender)

	ob, err := h.positions.Find(testAccount, "0xob1")
	require.NoError(t, err)
	assert.True(t, ob.Debt(tokenUSDC.CoinType).IsZero(), "debt cleared optimistically")
	assert.Equal(t, []string{"refresh:" + testAccount}, h.debouncer.triggered())
}

func TestSubmitOnChainFailure(t *testing.T) {
	h := newHarness(t)
	h.executor.exec = &provider.Execution{
		Digest: "Dgst2",
		Status: provider.ExecutionFailure,
		Error:  "MoveAbort(borrow_incentive::user, 0x1): error_obligation_locked",
	}
	action := &Action{
		Type:         ActionRepay,
		ObligationId: "0xlocked",
		Token:        tokenUSDC,
		Amount:       dec("5"),
	}
	res, err := h.submitter.Submit(context.Background(), action)
	require.Error(t, err)
	assert.Equal(t, txerr.KindOnChain, txerr.KindOf(err))
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "use Unlock & Repay instead", res.Remediation)

	// Unmatched errors are shown verbatim
	h.executor.exec = &provider.Execution{Status: provider.ExecutionFailure, Error: "VMVerificationError 42"}
	res, err = h.submitter.Submit(context.Background(), action)
	require.Error(t, err)
	assert.Equal(t, "VMVerificationError 42", res.Message)
	assert.Empty(t, res.Remediation)
}

func TestSubmitAmbiguousVerifiesSuccess(t *testing.T) {
	h := newHarness(t)
	h.executor.exec = &provider.Execution{Digest: "Dgst3", Status: provider.ExecutionUnknown}
	// Load the cache so validation sees the debt of 100
	_, err := h.positions.GetObligations(context.Background(), testAccount)
	require.NoError(t, err)
	// The repay landed even though the wallet did not say so
	h.source.setDebt(decimal.Zero)

	res, err := h.submitter.Submit(context.Background(), repay("100"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.NotEmpty(t, res.WatchId)

	assert.Eventually(t, func() bool {
		return len(h.debouncer.triggered()) == 1
	}, time.Second, 5*time.Millisecond)
	ob, err := h.positions.Find(testAccount, "0xob1")
	require.NoError(t, err)
	assert.True(t, ob.Debt(tokenUSDC.CoinType).IsZero())
}

func TestSubmitConnectionLostIsPending(t *testing.T) {
	h := newHarness(t)
	h.executor.exec = nil
	h.executor.err = txerr.NewConnectivityError("sign and execute", errors.New("EOF"))
	res, err := h.submitter.Submit(context.Background(), repay("40"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Empty(t, res.ExplorerUrl)
}

func TestSubmitBuildError(t *testing.T) {
	h := newHarness(t)
	h.builder.err = txerr.NewConnectivityError("build transaction", errors.New("timeout"))
	_, err := h.submitter.Submit(context.Background(), repay("10"))
	assert.Equal(t, txerr.KindConnectivity, txerr.KindOf(err))
	assert.Equal(t, 0, h.executor.calls)
}

func TestDepositLiquidity(t *testing.T) {
	lower, upper := int32(-120), int32(120)
	deposit := func() *Action {
		return &Action{
			Type:        ActionDepositLiquidity,
			Venue:       "cetus",
			PoolId:      "0xpool",
			Token:       tokenSUI,
			Amount:      dec("10"),
			TokenB:      tokenUSDC,
			AmountB:     dec("20"),
			TickLower:   &lower,
			TickUpper:   &upper,
			TickSpacing: 60,
		}
	}

	h := newHarness(t)
	res, err := h.submitter.Submit(context.Background(), deposit())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	req := h.builder.requests[0]
	assert.Equal(t, "10000000000", req.Amount)
	assert.Equal(t, "20000000", req.AmountB)
	assert.Equal(t, tokenUSDC.CoinType, req.CoinTypeB)

	h = newHarness(t)
	h.prices.err = price.ErrPriceUnknown
	_, err = h.submitter.Submit(context.Background(), deposit())
	requireValidation(t, err, "price")

	h = newHarness(t)
	bad := deposit()
	badLower := int32(-100)
	bad.TickLower = &badLower
	_, err = h.submitter.Submit(context.Background(), bad)
	assert.Equal(t, txerr.KindValidation, txerr.KindOf(err))
}

func TestDepositLiquidityPriceRange(t *testing.T) {
	priceDeposit := func(lower, upper string) *Action {
		action := &Action{
			Type:        ActionDepositLiquidity,
			Venue:       "cetus",
			PoolId:      "0xpool",
			Token:       tokenSUI,
			Amount:      dec("10"),
			TokenB:      tokenUSDC,
			AmountB:     dec("20"),
			TickSpacing: 60,
		}
		if lower != "" {
			p := dec(lower)
			action.PriceLower = &p
		}
		if upper != "" {
			p := dec(upper)
			action.PriceUpper = &p
		}
		return action
	}

	h := newHarness(t)
	res, err := h.submitter.Submit(context.Background(), priceDeposit("1", "4"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	req := h.builder.requests[0]
	require.NotNil(t, req.TickLower)
	require.NotNil(t, req.TickUpper)
	lower, upper := *req.TickLower, *req.TickUpper
	assert.Zero(t, lower%60)
	assert.Zero(t, upper%60)
	// The aligned range covers the requested one and is no wider than needed
	priceAt := func(tick int32) decimal.Decimal {
		return price.TickToPrice(tick, tokenSUI.Decimals, tokenUSDC.Decimals)
	}
	assert.True(t, priceAt(lower).LessThanOrEqual(dec("1")))
	assert.True(t, priceAt(lower+60).GreaterThan(dec("1")))
	assert.True(t, priceAt(upper).GreaterThanOrEqual(dec("4")))
	assert.True(t, priceAt(upper-60).LessThan(dec("4")))

	h = newHarness(t)
	_, err = h.submitter.Submit(context.Background(), priceDeposit("1", ""))
	requireValidation(t, err, "priceRange")

	h = newHarness(t)
	_, err = h.submitter.Submit(context.Background(), priceDeposit("4", "1"))
	requireValidation(t, err, "range")

	h = newHarness(t)
	_, err = h.submitter.Submit(context.Background(), priceDeposit("-1", "4"))
	requireValidation(t, err, "priceLower")
	assert.Empty(t, h.builder.requests)
}

func TestUnlockLocked(t *testing.T) {
	h := newHarness(t)
	res, err := h.submitter.Submit(context.Background(), &Action{Type: ActionUnlock, ObligationId: "0xlocked"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, h.builder.requests[0].Amount)
}
