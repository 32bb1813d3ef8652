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

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/shopspring/decimal"
)

// ChainClient reads lending obligations and pool state
type ChainClient struct {
	client *client
}

func NewChainClient(cfg Config) *ChainClient {
	return &ChainClient{client: newClient("chain", cfg)}
}

// lockField is the "lock" attribute of an obligation. Depending on the
// protocol version it is a bool, a lock type string or an object
type lockField struct {
	Locked bool
	Types  []string
	Staked bool
}

func (l *lockField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	switch trimmed[0] {
	case 't', 'f':
		return json.Unmarshal(trimmed, &l.Locked)
	case '"':
		var lockType string
		if err := json.Unmarshal(trimmed, &lockType); err != nil {
			return err
		}
		l.Types = nonEmpty(lockType)
		return nil
	case '{':
		var obj struct {
			Locked bool   `json:"locked"`
			Type   string `json:"type"`
			Kind   string `json:"kind"`
			Staked bool   `json:"staked"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		l.Locked = obj.Locked
		l.Types = nonEmpty(obj.Type, obj.Kind)
		l.Staked = obj.Staked
		return nil
	default:
		return fmt.Errorf("unsupported lock shape: %s", trimmed)
	}
}

type wireEntry struct {
	CoinType  string              `json:"coinType"`
	Symbol    string              `json:"symbol"`
	Amount    decimal.NullDecimal `json:"amount"`
	RawAmount bigNumber           `json:"rawAmount"`
	Decimals  int32               `json:"decimals"`
	USDValue  decimal.NullDecimal `json:"usdValue"`
	Price     decimal.NullDecimal `json:"price"`
}

func (w wireEntry) validate() error {
	if w.RawAmount.negative() || (w.Amount.Valid && w.Amount.Decimal.IsNegative()) {
		return errNegativeAmount
	}
	return nil
}

func (w wireEntry) normalize() position.Entry {
	amount := decimal.Zero
	switch {
	case w.Amount.Valid:
		amount = w.Amount.Decimal
	case w.RawAmount.v != nil:
		amount = common.FromBaseUnits(w.RawAmount.v, w.Decimals)
	}
	usd := decimal.Zero
	switch {
	case w.USDValue.Valid:
		usd = w.USDValue.Decimal
	case w.Price.Valid:
		usd = amount.Mul(w.Price.Decimal)
	}
	return position.Entry{
		Symbol:   w.Symbol,
		CoinType: w.CoinType,
		Amount:   amount,
		USDValue: usd,
	}
}

type wireObligation struct {
	ObligationId    string      `json:"obligationId"`
	Id              string      `json:"id"`
	Collaterals     []wireEntry `json:"collaterals"`
	Borrows         []wireEntry `json:"borrows"`
	Debts           []wireEntry `json:"debts"`
	Locked          bool        `json:"locked"`
	Lock            lockField   `json:"lock"`
	LockType        string      `json:"lockType"`
	BoostLocked     bool        `json:"boostLocked"`
	IncentiveLocked bool        `json:"incentiveLocked"`
	IncentiveStaked bool        `json:"incentiveStaked"`
}

func (w wireObligation) normalize() position.RawObligation {
	ret := position.RawObligation{
		ObligationId: firstNonEmpty(w.ObligationId, w.Id),
		Collaterals:  make([]position.Entry, 0, len(w.Collaterals)),
		Borrows:      make([]position.Entry, 0, len(w.Borrows)+len(w.Debts)),
		Signals: position.LockSignals{
			Locked:          w.Locked || w.Lock.Locked,
			BoostLocked:     w.BoostLocked,
			IncentiveLocked: w.IncentiveLocked,
			LockTypes:       append(nonEmpty(w.LockType), w.Lock.Types...),
			IncentiveStaked: w.IncentiveStaked || w.Lock.Staked,
		},
	}
	ret.Collaterals = w.normalizeEntries(ret.Collaterals, "collateral", w.Collaterals)
	// Older responses call borrows "debts"
	ret.Borrows = w.normalizeEntries(ret.Borrows, "borrow", w.Borrows)
	ret.Borrows = w.normalizeEntries(ret.Borrows, "borrow", w.Debts)
	return ret
}

func (w wireObligation) normalizeEntries(dst []position.Entry, side string, entries []wireEntry) []position.Entry {
	for _, e := range entries {
		if err := e.validate(); err != nil {
			logging.GetLogger().Warn(
				"dropping invalid obligation entry",
				"obligation", firstNonEmpty(w.ObligationId, w.Id),
				"side", side,
				"coinType", e.CoinType,
				"error", err,
			)
			continue
		}
		dst = append(dst, e.normalize())
	}
	return dst
}

// FetchObligations returns the lending obligations owned by account
func (c *ChainClient) FetchObligations(
	ctx context.Context,
	account string,
) ([]position.RawObligation, error) {
	var wire []wireObligation
	err := c.client.call(
		ctx,
		request{
			op:     "fetch obligations",
			method: http.MethodGet,
			path:   "/accounts/" + url.PathEscape(account) + "/obligations",
		},
		&wire,
	)
	if err != nil {
		return nil, err
	}
	ret := make([]position.RawObligation, 0, len(wire))
	for _, w := range wire {
		o := w.normalize()
		if o.ObligationId == "" {
			continue
		}
		ret = append(ret, o)
	}
	return ret, nil
}

type wirePool struct {
	PoolId           string    `json:"poolId"`
	Id               string    `json:"id"`
	Type             string    `json:"type"`
	CoinTypeA        string    `json:"coinTypeA"`
	CoinTypeB        string    `json:"coinTypeB"`
	SymbolA          string    `json:"symbolA"`
	SymbolB          string    `json:"symbolB"`
	DecimalsA        int32     `json:"decimalsA"`
	DecimalsB        int32     `json:"decimalsB"`
	SqrtPrice        bigNumber `json:"sqrtPrice"`
	TickIndex        *int32    `json:"tickIndex"`
	CurrentTickIndex *int32    `json:"currentTickIndex"`
	ReserveA         bigNumber `json:"reserveA"`
	ReserveB         bigNumber `json:"reserveB"`
	TickSpacing      int32     `json:"tickSpacing"`
}

// kind returns the explicit pool type or infers it from the fields present
func (w wirePool) kind() (price.PoolKind, error) {
	switch price.PoolKind(w.Type) {
	case price.PoolKindSqrtPrice, price.PoolKindTick, price.PoolKindReserves:
		return price.PoolKind(w.Type), nil
	}
	switch {
	case w.SqrtPrice.v != nil:
		return price.PoolKindSqrtPrice, nil
	case w.ReserveA.v != nil && w.ReserveB.v != nil:
		return price.PoolKindReserves, nil
	case w.TickIndex != nil || w.CurrentTickIndex != nil:
		return price.PoolKindTick, nil
	}
	return "", fmt.Errorf("pool %s: unrecognized pool shape", firstNonEmpty(w.PoolId, w.Id))
}

func (w wirePool) normalize(venue string) (*price.PoolState, error) {
	kind, err := w.kind()
	if err != nil {
		return nil, err
	}
	if w.SqrtPrice.negative() || w.ReserveA.negative() || w.ReserveB.negative() {
		return nil, fmt.Errorf("pool %s: %w", firstNonEmpty(w.PoolId, w.Id), errNegativeAmount)
	}
	ret := &price.PoolState{
		PoolId: firstNonEmpty(w.PoolId, w.Id),
		Venue:  venue,
		Kind:   kind,
		TokenX: common.Token{
			CoinType: w.CoinTypeA,
			Symbol:   w.SymbolA,
			Decimals: w.DecimalsA,
		},
		TokenY: common.Token{
			CoinType: w.CoinTypeB,
			Symbol:   w.SymbolB,
			Decimals: w.DecimalsB,
		},
		SqrtPriceX64: w.SqrtPrice.v,
		ReserveX:     w.ReserveA.v,
		ReserveY:     w.ReserveB.v,
		TickSpacing:  w.TickSpacing,
		UpdatedAt:    time.Now(),
	}
	switch {
	case w.TickIndex != nil:
		ret.TickIndex = *w.TickIndex
	case w.CurrentTickIndex != nil:
		ret.TickIndex = *w.CurrentTickIndex
	}
	return ret, nil
}

// Pool returns the state of the pool trading tokenA against tokenB on venue
func (c *ChainClient) Pool(
	ctx context.Context,
	venue string,
	tokenA, tokenB common.Token,
) (*price.PoolState, error) {
	var wire wirePool
	err := c.client.call(
		ctx,
		request{
			op:     "fetch pool",
			method: http.MethodGet,
			path:   "/pools",
			query: map[string]string{
				"venue": venue,
				"coinA": tokenA.CoinType,
				"coinB": tokenB.CoinType,
			},
		},
		&wire,
	)
	if err != nil {
		return nil, err
	}
	return wire.normalize(venue)
}
