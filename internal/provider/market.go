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
	"strings"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/shopspring/decimal"
)

// MarketClient reads off-chain USD prices
type MarketClient struct {
	client *client
}

func NewMarketClient(cfg Config) *MarketClient {
	return &MarketClient{client: newClient("market", cfg)}
}

type wirePrice struct {
	CoinType string              `json:"coinType"`
	Price    decimal.NullDecimal `json:"price"`
	USDPrice decimal.NullDecimal `json:"usdPrice"`
}

// USDPrices returns USD prices keyed by normalized coin type. Coins without a
// positive price are left out
func (m *MarketClient) USDPrices(
	ctx context.Context,
	coinTypes []string,
) (map[string]decimal.Decimal, error) {
	if len(coinTypes) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	var raw json.RawMessage
	err := m.client.call(
		ctx,
		request{
			op:     "fetch prices",
			method: http.MethodGet,
			path:   "/prices",
			query:  map[string]string{"coins": strings.Join(coinTypes, ",")},
		},
		&raw,
	)
	if err != nil {
		return nil, err
	}
	prices, err := decodePrices(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	ret := make(map[string]decimal.Decimal, len(prices))
	for coinType, price := range prices {
		if price.IsPositive() {
			ret[common.NormalizeCoinType(coinType)] = price
		}
	}
	return ret, nil
}

// decodePrices accepts either a coin type to price map or a list of price
// objects
func decodePrices(raw json.RawMessage) (map[string]decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyResponse
	}
	switch trimmed[0] {
	case '{':
		var ret map[string]decimal.Decimal
		if err := json.Unmarshal(trimmed, &ret); err != nil {
			return nil, err
		}
		return ret, nil
	case '[':
		var list []wirePrice
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		ret := make(map[string]decimal.Decimal, len(list))
		for _, item := range list {
			switch {
			case item.Price.Valid:
				ret[item.CoinType] = item.Price.Decimal
			case item.USDPrice.Valid:
				ret[item.CoinType] = item.USDPrice.Decimal
			}
		}
		return ret, nil
	default:
		return nil, fmt.Errorf("unsupported price payload: %s", trimmed)
	}
}
