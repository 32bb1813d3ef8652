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

// Package common provides shared types used across multiple packages
package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Token identifies an on-chain coin type along with its display metadata
type Token struct {
	CoinType string `json:"coinType"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// String returns a human-readable representation of the Token
func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.CoinType
}

// Key returns the normalized coin type
func (t Token) Key() string {
	return NormalizeCoinType(t.CoinType)
}

// Is checks if this token has the given coin type
func (t Token) Is(coinType string) bool {
	return NormalizeCoinType(t.CoinType) == NormalizeCoinType(coinType)
}

// AssetBalance is a wallet holding of a single coin type
type AssetBalance struct {
	Token
	// Amount in base units
	RawAmount *big.Int `json:"rawAmount"`
}

// Amount returns the display amount
func (a AssetBalance) Amount() decimal.Decimal {
	return FromBaseUnits(a.RawAmount, a.Decimals)
}

// String returns a human-readable representation
func (a AssetBalance) String() string {
	return fmt.Sprintf("%s %s", a.Amount().String(), a.Token.String())
}

// NormalizeCoinType canonicalizes the address segment of a coin type, so
// "0x2::sui::SUI" and "0x0000...0002::sui::SUI" compare equal. Module and
// struct names are case-sensitive on chain and are kept as given
func NormalizeCoinType(coinType string) string {
	coinType = strings.TrimSpace(coinType)
	addr, rest, found := strings.Cut(coinType, "::")
	if !found {
		return coinType
	}
	addr = strings.ToLower(addr)
	if hexPart, ok := strings.CutPrefix(addr, "0x"); ok {
		hexPart = strings.TrimLeft(hexPart, "0")
		if hexPart == "" {
			hexPart = "0"
		}
		addr = "0x" + hexPart
	}
	return addr + "::" + rest
}

// ToBaseUnits converts a human amount to base units, flooring any precision
// beyond the token's decimals
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Floor().BigInt()
}

// FromBaseUnits converts base units to a human amount
func FromBaseUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ExplorerTxURL builds the explorer link for a transaction digest
func ExplorerTxURL(baseUrl string, digest string) string {
	return strings.TrimRight(baseUrl, "/") + "/txblock/" + digest
}
