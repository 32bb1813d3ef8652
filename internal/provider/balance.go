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
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/url"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
)

type wireBalance struct {
	CoinType     string    `json:"coinType"`
	Symbol       string    `json:"symbol"`
	Decimals     int32     `json:"decimals"`
	TotalBalance bigNumber `json:"totalBalance"`
	Balance      bigNumber `json:"balance"`
}

var errNegativeAmount = errors.New("negative amount")

func (w wireBalance) validate() error {
	if w.TotalBalance.negative() || w.Balance.negative() {
		return errNegativeAmount
	}
	return nil
}

func (w wireBalance) normalize() common.AssetBalance {
	raw := w.TotalBalance.v
	if raw == nil {
		raw = w.Balance.v
	}
	if raw == nil {
		raw = new(big.Int)
	}
	return common.AssetBalance{
		Token: common.Token{
			CoinType: w.CoinType,
			Symbol:   w.Symbol,
			Decimals: w.Decimals,
		},
		RawAmount: raw,
	}
}

// BalanceClient reads wallet coin balances
type BalanceClient struct {
	client *client
}

func NewBalanceClient(cfg Config) *BalanceClient {
	return &BalanceClient{client: newClient("balance", cfg)}
}

// CoinBalances returns every coin held by account
func (b *BalanceClient) CoinBalances(
	ctx context.Context,
	account string,
) ([]common.AssetBalance, error) {
	var wire []wireBalance
	err := b.client.call(
		ctx,
		request{
			op:     "fetch balances",
			method: http.MethodGet,
			path:   "/accounts/" + url.PathEscape(account) + "/balances",
		},
		&wire,
	)
	if err != nil {
		return nil, err
	}
	ret := make([]common.AssetBalance, 0, len(wire))
	for _, w := range wire {
		if w.CoinType == "" {
			continue
		}
		if err := w.validate(); err != nil {
			logging.GetLogger().Warn(
				"dropping invalid balance",
				"account", account,
				"coinType", w.CoinType,
				"error", err,
			)
			continue
		}
		ret = append(ret, w.normalize())
	}
	return ret, nil
}
