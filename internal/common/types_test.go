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

package common

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeCoinType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x2::sui::SUI", "0x2::sui::SUI"},
		{
			"0x0000000000000000000000000000000000000000000000000000000000000002::sui::SUI",
			"0x2::sui::SUI",
		},
		{"  0xABC::coin::COIN ", "0xabc::coin::COIN"},
		{"0X00ab::Coin::Coin", "0xab::Coin::Coin"},
		{"0x0::x::Y", "0x0::x::Y"},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := NormalizeCoinType(test.input); got != test.expected {
			t.Errorf("NormalizeCoinType(%q) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestNormalizeCoinTypeKeepsStructCase(t *testing.T) {
	// Distinct structs under one module must not collide
	upper := NormalizeCoinType("0xabc::coin::FOO")
	lower := NormalizeCoinType("0xabc::coin::foo")
	if upper == lower {
		t.Errorf("expected %q and %q to differ", upper, lower)
	}
	if NormalizeCoinType("0x000abc::coin::FOO") != upper {
		t.Error("expected padded address to match")
	}
	token := Token{CoinType: "0xabc::coin::FOO"}
	if token.Is("0xabc::coin::foo") {
		t.Error("expected differently cased struct not to match")
	}
}

func TestTokenIs(t *testing.T) {
	token := Token{CoinType: "0x2::sui::SUI", Symbol: "SUI", Decimals: 9}
	if !token.Is("0x00002::sui::SUI") {
		t.Error("expected padded coin type to match")
	}
	if token.Is("0x2::usdc::USDC") {
		t.Error("expected different coin type not to match")
	}
	if token.String() != "SUI" {
		t.Errorf("expected symbol as string, got %s", token.String())
	}
}

func TestFromBaseUnits(t *testing.T) {
	amount := FromBaseUnits(big.NewInt(1_000_000), 6)
	if !amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", amount)
	}
	if !FromBaseUnits(nil, 6).IsZero() {
		t.Error("expected zero for nil raw amount")
	}
}

func TestToBaseUnitsFloors(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		expected int64
	}{
		{"1", 6, 1_000_000},
		{"1.2345678", 6, 1_234_567},
		{"0.0000009", 6, 0},
		{"2.5", 0, 2},
	}
	for _, test := range tests {
		got := ToBaseUnits(decimal.RequireFromString(test.amount), test.decimals)
		if got.Int64() != test.expected {
			t.Errorf(
				"ToBaseUnits(%s, %d) = %s, expected %d",
				test.amount,
				test.decimals,
				got,
				test.expected,
			)
		}
	}
}

func TestAssetBalanceAmount(t *testing.T) {
	bal := AssetBalance{
		Token:     Token{CoinType: "0x5::usdc::USDC", Symbol: "USDC", Decimals: 6},
		RawAmount: big.NewInt(2_500_000),
	}
	if bal.String() != "2.5 USDC" {
		t.Errorf("unexpected string: %s", bal.String())
	}
}

func TestExplorerTxURL(t *testing.T) {
	expected := "https://explorer.example/txblock/ABC123"
	if got := ExplorerTxURL("https://explorer.example/", "ABC123"); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
	if got := ExplorerTxURL("https://explorer.example", "ABC123"); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
