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
	"fmt"
	"strconv"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/provider"
	"github.com/shopspring/decimal"
)

type ActionType string

const (
	ActionSupply             ActionType = "supply"
	ActionWithdraw           ActionType = "withdraw"
	ActionAddCollateral      ActionType = "add_collateral"
	ActionWithdrawCollateral ActionType = "withdraw_collateral"
	ActionBorrow             ActionType = "borrow"
	ActionRepay              ActionType = "repay"
	ActionUnlock             ActionType = "unlock"
	ActionUnlockAndRepay     ActionType = "unlock_and_repay"
	ActionDepositLiquidity   ActionType = "deposit_liquidity"
)

// Valid returns true for a known action type
func (a ActionType) Valid() bool {
	switch a {
	case ActionSupply,
		ActionWithdraw,
		ActionAddCollateral,
		ActionWithdrawCollateral,
		ActionBorrow,
		ActionRepay,
		ActionUnlock,
		ActionUnlockAndRepay,
		ActionDepositLiquidity:
		return true
	}
	return false
}

// spendsWallet returns true for actions paid from the wallet balance
func (a ActionType) spendsWallet() bool {
	switch a {
	case ActionSupply,
		ActionAddCollateral,
		ActionRepay,
		ActionUnlockAndRepay,
		ActionDepositLiquidity:
		return true
	}
	return false
}

func (a ActionType) needsObligation() bool {
	switch a {
	case ActionAddCollateral,
		ActionWithdrawCollateral,
		ActionBorrow,
		ActionRepay,
		ActionUnlock,
		ActionUnlockAndRepay:
		return true
	}
	return false
}

func (a ActionType) needsAmount() bool {
	return a != ActionUnlock
}

// Action is a user request to change a position
type Action struct {
	Type         ActionType      `json:"type"`
	ObligationId string          `json:"obligationId,omitempty"`
	Token        common.Token    `json:"token"`
	Amount       decimal.Decimal `json:"amount"`
	// Liquidity deposits only
	Venue     string          `json:"venue,omitempty"`
	PoolId    string          `json:"poolId,omitempty"`
	TokenB    common.Token    `json:"tokenB,omitempty"`
	AmountB   decimal.Decimal `json:"amountB,omitempty"`
	TickLower *int32          `json:"tickLower,omitempty"`
	TickUpper *int32          `json:"tickUpper,omitempty"`
	// Price range of Token in TokenB, used when the ticks are not set
	PriceLower *decimal.Decimal `json:"priceLower,omitempty"`
	PriceUpper *decimal.Decimal `json:"priceUpper,omitempty"`
	// Tick spacing of the target pool
	TickSpacing int32 `json:"tickSpacing,omitempty"`
}

func (a *Action) String() string {
	if a.Type.needsAmount() {
		return fmt.Sprintf(
			"Action< type = %s, obligation = %s, amount = %s %s >",
			a.Type,
			a.ObligationId,
			a.Amount.String(),
			a.Token.String(),
		)
	}
	return fmt.Sprintf("Action< type = %s, obligation = %s >", a.Type, a.ObligationId)
}

// buildRequest converts the action into a builder request with amounts in
// base units
func (a *Action) buildRequest(sender string) *provider.BuildRequest {
	req := &provider.BuildRequest{
		Action:       string(a.Type),
		Sender:       sender,
		ObligationId: a.ObligationId,
		CoinType:     a.Token.CoinType,
		PoolId:       a.PoolId,
		TickLower:    a.TickLower,
		TickUpper:    a.TickUpper,
	}
	if a.Type.needsAmount() {
		req.Amount = common.ToBaseUnits(a.Amount, a.Token.Decimals).String()
	}
	if a.Type == ActionDepositLiquidity {
		req.CoinTypeB = a.TokenB.CoinType
		req.AmountB = common.ToBaseUnits(a.AmountB, a.TokenB.Decimals).String()
	}
	return req
}

func (a *Action) label() string {
	if a.ObligationId == "" {
		return string(a.Type)
	}
	return string(a.Type) + " " + a.ObligationId
}

func formatTick(tick *int32) string {
	if tick == nil {
		return "unset"
	}
	return strconv.Itoa(int(*tick))
}
