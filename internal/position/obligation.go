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

package position

import (
	"encoding/json"
	"fmt"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/shopspring/decimal"
)

// LockState indicates whether an obligation is locked in a staking program
type LockState string

const (
	LockStateUnlocked        LockState = "unlocked"
	LockStateBoostLocked     LockState = "boost-locked"
	LockStateIncentiveLocked LockState = "incentive-locked"
)

// Locked returns true for any locked state
func (l LockState) Locked() bool {
	return l == LockStateBoostLocked || l == LockStateIncentiveLocked
}

// RiskTier is a display classification of loan-to-value. It is not a
// liquidation threshold
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

var (
	highRiskLTV   = decimal.RequireFromString("0.75")
	mediumRiskLTV = decimal.RequireFromString("0.5")
	hundred       = decimal.NewFromInt(100)
)

// Entry is a single collateral or borrow line of an obligation
type Entry struct {
	Symbol   string          `json:"symbol"`
	CoinType string          `json:"coinType"`
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// Obligation is a user's lending account tracking collateral and debt
type Obligation struct {
	ObligationId string    `json:"obligationId"`
	Collaterals  []Entry   `json:"collaterals"`
	Borrows      []Entry   `json:"borrows"`
	LockState    LockState `json:"lockState"`
}

// TotalCollateralUSD returns the summed USD value of all collaterals
func (o *Obligation) TotalCollateralUSD() decimal.Decimal {
	return sumUSD(o.Collaterals)
}

// TotalBorrowUSD returns the summed USD value of all borrows
func (o *Obligation) TotalBorrowUSD() decimal.Decimal {
	return sumUSD(o.Borrows)
}

// LoanToValue returns totalBorrowUSD / totalCollateralUSD as a ratio, or
// zero when there is no collateral
func (o *Obligation) LoanToValue() decimal.Decimal {
	collateral := o.TotalCollateralUSD()
	if !collateral.IsPositive() {
		return decimal.Zero
	}
	return o.TotalBorrowUSD().Div(collateral)
}

// LoanToValuePercent returns the loan-to-value as a percentage
func (o *Obligation) LoanToValuePercent() decimal.Decimal {
	return o.LoanToValue().Mul(hundred)
}

// RiskTier classifies the loan-to-value for display
func (o *Obligation) RiskTier() RiskTier {
	ltv := o.LoanToValue()
	switch {
	case ltv.GreaterThanOrEqual(highRiskLTV):
		return RiskTierHigh
	case ltv.GreaterThanOrEqual(mediumRiskLTV):
		return RiskTierMedium
	default:
		return RiskTierLow
	}
}

// IsEmpty returns true if the obligation holds no collateral
func (o *Obligation) IsEmpty() bool {
	return len(o.Collaterals) == 0
}

// Debt returns the borrowed amount of the given coin type
func (o *Obligation) Debt(coinType string) decimal.Decimal {
	total := decimal.Zero
	for _, borrow := range o.Borrows {
		if common.NormalizeCoinType(borrow.CoinType) == common.NormalizeCoinType(coinType) {
			total = total.Add(borrow.Amount)
		}
	}
	return total
}

// Collateral returns the deposited collateral amount of the given coin type
func (o *Obligation) Collateral(coinType string) decimal.Decimal {
	total := decimal.Zero
	for _, collateral := range o.Collaterals {
		if common.NormalizeCoinType(collateral.CoinType) == common.NormalizeCoinType(coinType) {
			total = total.Add(collateral.Amount)
		}
	}
	return total
}

// String returns a human-readable representation
func (o Obligation) String() string {
	idDisplay := o.ObligationId
	if len(idDisplay) > 16 {
		idDisplay = idDisplay[:16] + "..."
	}
	return fmt.Sprintf(
		"Obligation[%s] collateral=%s borrow=%s ltv=%s%% (%s, %s)",
		idDisplay,
		o.TotalCollateralUSD().StringFixed(2),
		o.TotalBorrowUSD().StringFixed(2),
		o.LoanToValuePercent().StringFixed(2),
		o.RiskTier(),
		o.LockState,
	)
}

// MarshalJSON implements json.Marshaler with computed fields
func (o Obligation) MarshalJSON() ([]byte, error) {
	type Alias Obligation
	return json.Marshal(&struct {
		Alias
		TotalCollateralUSD decimal.Decimal `json:"totalCollateralUSD"`
		TotalBorrowUSD     decimal.Decimal `json:"totalBorrowUSD"`
		LoanToValue        decimal.Decimal `json:"loanToValue"`
		RiskTier           RiskTier        `json:"riskTier"`
		IsEmpty            bool            `json:"isEmpty"`
	}{
		Alias:              Alias(o),
		TotalCollateralUSD: o.TotalCollateralUSD(),
		TotalBorrowUSD:     o.TotalBorrowUSD(),
		LoanToValue:        o.LoanToValuePercent(),
		RiskTier:           o.RiskTier(),
		IsEmpty:            o.IsEmpty(),
	})
}

func sumUSD(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.USDValue)
	}
	return total
}
