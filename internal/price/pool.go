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
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/shopspring/decimal"
)

// PoolKind identifies which price representation a pool carries
type PoolKind string

const (
	// Concentrated liquidity pool reporting sqrt(price) as a Q64.64 integer
	PoolKindSqrtPrice PoolKind = "sqrt_price"
	// Concentrated liquidity pool reporting only its current tick
	PoolKindTick PoolKind = "tick"
	// Constant product pool reporting reserves
	PoolKindReserves PoolKind = "reserves"
)

// Result precision in decimal places
const pricePrecision = 24

var q64 = new(big.Int).Lsh(big.NewInt(1), 64)

// PoolState represents the current state of a liquidity pool
type PoolState struct {
	PoolId       string       `json:"poolId"`
	Venue        string       `json:"venue"`
	Kind         PoolKind     `json:"kind"`
	TokenX       common.Token `json:"tokenX"`
	TokenY       common.Token `json:"tokenY"`
	SqrtPriceX64 *big.Int     `json:"sqrtPriceX64,omitempty"`
	TickIndex    int32        `json:"tickIndex,omitempty"`
	ReserveX     *big.Int     `json:"reserveX,omitempty"`
	ReserveY     *big.Int     `json:"reserveY,omitempty"`
	TickSpacing  int32        `json:"tickSpacing,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// RawPriceXY returns the price of X in terms of Y in base units
func (p *PoolState) RawPriceXY() (decimal.Decimal, error) {
	switch p.Kind {
	case PoolKindSqrtPrice:
		if p.SqrtPriceX64 == nil || p.SqrtPriceX64.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("pool %s: missing sqrt price", p.PoolId)
		}
		squared := new(big.Int).Mul(p.SqrtPriceX64, p.SqrtPriceX64)
		denom := new(big.Int).Mul(q64, q64)
		return decimal.NewFromBigInt(squared, 0).
			DivRound(decimal.NewFromBigInt(denom, 0), pricePrecision+18), nil
	case PoolKindTick:
		return TickToRawPrice(p.TickIndex), nil
	case PoolKindReserves:
		if p.ReserveX == nil || p.ReserveY == nil || p.ReserveX.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("pool %s: empty reserves", p.PoolId)
		}
		return decimal.NewFromBigInt(p.ReserveY, 0).
			DivRound(decimal.NewFromBigInt(p.ReserveX, 0), pricePrecision+18), nil
	default:
		return decimal.Zero, fmt.Errorf("pool %s: unsupported pool kind %q", p.PoolId, p.Kind)
	}
}

// PriceXY returns the human price of X in terms of Y (Y per X), adjusted for
// the decimal difference between the tokens
func (p *PoolState) PriceXY(decimalsX, decimalsY int32) (decimal.Decimal, error) {
	raw, err := p.RawPriceXY()
	if err != nil {
		return decimal.Zero, err
	}
	if !raw.IsPositive() {
		return decimal.Zero, fmt.Errorf("pool %s: non-positive price", p.PoolId)
	}
	return raw.Shift(decimalsX - decimalsY).Round(pricePrecision), nil
}

// PriceYX returns the human price of Y in terms of X (X per Y)
func (p *PoolState) PriceYX(decimalsX, decimalsY int32) (decimal.Decimal, error) {
	priceXY, err := p.PriceXY(decimalsX, decimalsY)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(1).DivRound(priceXY, pricePrecision), nil
}

// Key returns a unique identifier for this pool state
func (p *PoolState) Key() string {
	return fmt.Sprintf("%s:%s", p.Venue, p.PoolId)
}

// String returns a human-readable representation
func (p PoolState) String() string {
	poolIdDisplay := p.PoolId
	if len(poolIdDisplay) > 16 {
		poolIdDisplay = poolIdDisplay[:16] + "..."
	}
	return fmt.Sprintf(
		"Pool[%s] %s/%s (%s)",
		poolIdDisplay,
		p.TokenX.String(),
		p.TokenY.String(),
		p.Kind,
	)
}

// MarshalJSON implements json.Marshaler with computed fields
func (p PoolState) MarshalJSON() ([]byte, error) {
	type Alias PoolState
	priceXY, _ := p.PriceXY(p.TokenX.Decimals, p.TokenY.Decimals)
	return json.Marshal(&struct {
		Alias
		PriceXY decimal.Decimal `json:"priceXY"`
	}{
		Alias:   Alias(p),
		PriceXY: priceXY,
	})
}

// TickToRawPrice returns 1.0001^tick
func TickToRawPrice(tick int32) decimal.Decimal {
	return decimal.NewFromFloat(math.Pow(1.0001, float64(tick)))
}

// TickToPrice returns the human price of X in Y at the given tick
func TickToPrice(tick int32, decimalsX, decimalsY int32) decimal.Decimal {
	return TickToRawPrice(tick).Shift(decimalsX - decimalsY)
}

// PriceToTick returns the greatest tick whose price does not exceed the
// given human price
func PriceToTick(price decimal.Decimal, decimalsX, decimalsY int32) (int32, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("price must be positive: %s", price)
	}
	raw := price.Shift(decimalsY - decimalsX)
	rawFloat, _ := raw.Float64()
	estimate := math.Round(math.Log(rawFloat) / math.Log(1.0001))
	if math.IsNaN(estimate) || estimate < MinTick-1 || estimate > MaxTick+1 {
		return 0, fmt.Errorf("price %s is outside the supported tick range", price)
	}
	// The float estimate can land one tick off either way, settle it against
	// the exact tick prices
	tick := int32(estimate)
	for tick > MinTick && TickToRawPrice(tick).GreaterThan(raw) {
		tick--
	}
	for tick < MaxTick && TickToRawPrice(tick+1).LessThanOrEqual(raw) {
		tick++
	}
	if tick < MinTick || tick > MaxTick || TickToRawPrice(tick).GreaterThan(raw) {
		return 0, fmt.Errorf("price %s is outside the supported tick range", price)
	}
	return tick, nil
}
