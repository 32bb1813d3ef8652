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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/fetch"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/txsubmit"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcType = "0x5d4b302506645c37ff133b98c4b50a5ae14841659738d6d733d59d0d217a93bf::coin::COIN"

type fakeBalances struct {
	refreshed bool
}

func (f *fakeBalances) GetBalance(ctx context.Context, account string, coinTypes []string, forceRefresh bool) decimal.Decimal {
	f.refreshed = forceRefresh
	if account == "" || len(coinTypes) == 0 {
		return decimal.Zero
	}
	return decimal.RequireFromString("12.5")
}

func (f *fakeBalances) ListBalances(ctx context.Context, account string, forceRefresh bool) []common.AssetBalance {
	return nil
}

type fakeSource struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeSource) FetchObligations(ctx context.Context, account string) ([]position.RawObligation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("indexer lagging")
	}
	return []position.RawObligation{
		{
			ObligationId: "0xob1",
			Collaterals: []position.Entry{
				{Symbol: "SUI", CoinType: "0x2::sui::SUI", Amount: decimal.NewFromInt(100), USDValue: decimal.NewFromInt(200)},
			},
			Borrows: []position.Entry{
				{Symbol: "USDC", CoinType: usdcType, Amount: decimal.NewFromInt(100), USDValue: decimal.NewFromInt(100)},
			},
		},
	}, nil
}

func (f *fakeSource) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePrices struct {
	overrides map[string]decimal.Decimal
}

func (f *fakePrices) Resolve(ctx context.Context, venue string, a, b common.Token) (price.Quote, error) {
	if p, ok := f.overrides[a.Key()+"/"+b.Key()]; ok {
		return price.Quote{Pair: a.String() + "/" + b.String(), Price: p, Source: price.SourceManual}, nil
	}
	return price.Quote{}, price.ErrPriceUnknown
}

func (f *fakePrices) SetOverride(a, b common.Token, p decimal.Decimal) error {
	if !p.IsPositive() {
		return errors.New("override price must be positive")
	}
	f.overrides[a.Key()+"/"+b.Key()] = p
	return nil
}

func (f *fakePrices) ClearOverride(a, b common.Token) error {
	delete(f.overrides, a.Key()+"/"+b.Key())
	return nil
}

type fakeSubmitter struct {
	result *txsubmit.Result
	err    error
	got    *txsubmit.Action
}

func (f *fakeSubmitter) Submit(ctx context.Context, action *txsubmit.Action) (*txsubmit.Result, error) {
	f.got = action
	return f.result, f.err
}

type fakeSession struct {
	account string
	err     error
}

func (f *fakeSession) Connect(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.account = "0xabc"
	return f.account, nil
}

func (f *fakeSession) Disconnect()     { f.account = "" }
func (f *fakeSession) Account() string { return f.account }

type testEnv struct {
	api       *API
	server    *httptest.Server
	source    *fakeSource
	positions *position.Aggregator
	balances  *fakeBalances
	prices    *fakePrices
	submitter *fakeSubmitter
	session   *fakeSession
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		source:    &fakeSource{},
		balances:  &fakeBalances{},
		prices:    &fakePrices{overrides: map[string]decimal.Decimal{}},
		submitter: &fakeSubmitter{},
		session:   &fakeSession{},
	}
	env.positions = position.NewAggregator(env.source, nil)
	fetcher, err := fetch.New[[]*position.Obligation](
		fetch.Policy{MaxAttempts: 2, Backoff: config.BackoffNone},
	)
	require.NoError(t, err)
	env.api = New(Deps{
		Balances:    env.balances,
		Positions:   env.positions,
		Prices:      env.prices,
		Submitter:   env.submitter,
		Session:     env.session,
		Obligations: fetcher,
	})
	env.server = httptest.NewServer(env.api.Router())
	t.Cleanup(func() {
		env.server.Close()
		env.positions.Stop()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "api.example.com", true},
		{"localhost", "http://localhost:3000", "api.example.com", true},
		{"same host", "https://api.example.com", "api.example.com:8080", true},
		{"suffix attack", "https://api.example.com.attacker.com", "api.example.com", false},
		{"other host", "https://evil.com", "api.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/updates", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkWebSocketOrigin(req))
		})
	}
}

func TestBalance(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/balances?coinType=0x2::sui::SUI&refresh=true", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12.5", out["balance"])
	assert.True(t, env.balances.refreshed)

	_, out = env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/balances", "")
	assert.Equal(t, "0", out["balance"])

	_, out = env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/coins", "")
	assert.Equal(t, float64(0), out["count"])
	assert.Equal(t, []any{}, out["coins"])
}

func TestObligationsRetryFlow(t *testing.T) {
	env := newTestEnv(t)
	env.source.setFail(true)

	resp, out := env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/obligations", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "missing", out["state"])
	assert.Equal(t, true, out["canRetry"])

	// Reads never retry on their own
	env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/obligations", "")
	assert.Equal(t, 1, env.source.callCount())

	resp, out = env.do(t, http.MethodPost, "/api/v1/accounts/0xabc/obligations/retry", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "missing", out["state"])
	assert.Equal(t, false, out["canRetry"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/accounts/0xabc/obligations/retry", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 2, env.source.callCount())

	env.source.setFail(false)
	resp, out = env.do(t, http.MethodPost, "/api/v1/accounts/0xabc/obligations/retry?reset=true", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "loaded", out["state"])
	obligations, ok := out["obligations"].([]any)
	require.True(t, ok)
	require.Len(t, obligations, 1)
	assert.Equal(t, "0xob1", obligations[0].(map[string]any)["obligationId"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/accounts/0xabc/obligations/retry", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestObligationsShowOptimisticUpdates(t *testing.T) {
	env := newTestEnv(t)

	_, out := env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/obligations", "")
	assert.Equal(t, "loaded", out["state"])

	require.NoError(t, env.positions.ZeroDebt("0xabc", "0xob1", usdcType))
	_, out = env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/obligations", "")
	obligation := out["obligations"].([]any)[0].(map[string]any)
	borrows := obligation["borrows"].([]any)
	require.Len(t, borrows, 1)
	assert.Equal(t, "0", borrows[0].(map[string]any)["amount"])
	assert.Equal(t, 1, env.source.callCount())

	_, out = env.do(t, http.MethodGet, "/api/v1/accounts/0xabc/obligations?refresh=true", "")
	assert.Equal(t, "loaded", out["state"])
	assert.Equal(t, 2, env.source.callCount())
}

func TestPrice(t *testing.T) {
	env := newTestEnv(t)
	query := "/api/v1/prices?venue=cetus&base=0x2::sui::SUI&baseDecimals=9&baseSymbol=SUI&quote=" +
		usdcType + "&quoteDecimals=6&quoteSymbol=USDC"

	resp, out := env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown", out["state"])
	assert.Equal(t, "SUI/USDC", out["pair"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/prices?base=0x2::sui::SUI", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	override := `{"base":{"coinType":"0x2::sui::SUI","symbol":"SUI","decimals":9},` +
		`"quote":{"coinType":"` + usdcType + `","symbol":"USDC","decimals":6},"price":"3.25"}`
	resp, _ = env.do(t, http.MethodPut, "/api/v1/prices/override", override)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3.25", out["price"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/prices/override", override)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, query, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/v1/prices/override", strings.Replace(override, "3.25", "0", 1))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVenues(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.do(t, http.MethodGet, "/api/v1/venues", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mainnet", out["network"])
	venues := out["venues"].([]any)
	require.Len(t, venues, 4)
	cetus := venues[0].(map[string]any)
	assert.Equal(t, "cetus", cetus["venue"])
	assert.Equal(t, "clmm", cetus["type"])
	assert.Equal(t, []any{"onchain", "offchain"}, cetus["sourceOrder"])
}

func TestWallet(t *testing.T) {
	env := newTestEnv(t)

	_, out := env.do(t, http.MethodGet, "/api/v1/wallet", "")
	assert.Equal(t, false, out["connected"])

	resp, out := env.do(t, http.MethodPost, "/api/v1/wallet/connect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0xabc", out["account"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/wallet/disconnect", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.session.Account())

	env.session.err = txerr.NewConnectivityError("wallet address", errors.New("refused"))
	resp, out = env.do(t, http.MethodPost, "/api/v1/wallet/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "connectivity", out["kind"])
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	body := `{"type":"repay","obligationId":"0xob1","token":{"coinType":"` + usdcType +
		`","symbol":"USDC","decimals":6},"amount":"100"}`

	env.submitter.err = txerr.NewValidationError("amount", "Amount exceeds outstanding debt")
	resp, out := env.do(t, http.MethodPost, "/api/v1/tx", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "amount", out["field"])
	assert.Equal(t, "Amount exceeds outstanding debt", out["error"])
	require.NotNil(t, env.submitter.got)
	assert.Equal(t, txsubmit.ActionRepay, env.submitter.got.Type)
	assert.True(t, env.submitter.got.Amount.Equal(decimal.NewFromInt(100)))

	env.submitter.err = nil
	env.submitter.result = &txsubmit.Result{
		Action:      txsubmit.ActionRepay,
		Status:      txsubmit.StatusSuccess,
		Digest:      "9xDigest",
		ExplorerUrl: "https://suiscan.xyz/mainnet/txblock/9xDigest",
	}
	resp, out = env.do(t, http.MethodPost, "/api/v1/tx", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://suiscan.xyz/mainnet/txblock/9xDigest", out["explorerUrl"])

	env.submitter.result = &txsubmit.Result{Action: txsubmit.ActionRepay, Status: txsubmit.StatusFailure, Message: "boom"}
	env.submitter.err = txerr.FromExecution("boom")
	resp, out = env.do(t, http.MethodPost, "/api/v1/tx", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failure", out["status"])

	env.submitter.result = &txsubmit.Result{Action: txsubmit.ActionRepay, Status: txsubmit.StatusPending}
	env.submitter.err = nil
	resp, _ = env.do(t, http.MethodPost, "/api/v1/tx", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/tx", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStream(t *testing.T) {
	env := newTestEnv(t)
	env.api.startBroadcast()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.api.WebSocketClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	_, err = env.positions.GetObligations(context.Background(), "0xabc")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update position.Update
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "0xabc", update.Account)
	require.Len(t, update.Obligations, 1)
	assert.False(t, update.Optimistic)

	require.NoError(t, env.api.Shutdown(context.Background()))
	assert.Equal(t, 0, env.api.WebSocketClientCount())
}
