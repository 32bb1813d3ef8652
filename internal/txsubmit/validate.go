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
	"fmt"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/verify"
	"github.com/shopspring/decimal"
)

// validate checks action against current state and returns the state change
// that a successful execution should produce, if one can be observed
func (s *Submitter) validate(
	ctx context.Context,
	account string,
	action *Action,
) (*stateCheck, error) {
	if !action.Type.Valid() {
		return nil, txerr.NewValidationError("type", fmt.Sprintf("unknown action %q", action.Type))
	}
	if action.Type != ActionUnlock && action.Token.CoinType == "" {
		return nil, txerr.NewValidationError("token", "select a coin")
	}
	if action.Type.needsAmount() {
		if err := validateAmount("amount", action.Amount, action.Token); err != nil {
			return nil, err
		}
	}

	var ob *position.Obligation
	if action.Type.needsObligation() {
		if action.ObligationId == "" {
			return nil, txerr.NewValidationError("obligation", "select an obligation")
		}
		var err error
		ob, err = s.obligation(ctx, account, action.ObligationId)
		if err != nil {
			return nil, err
		}
	}

	if action.Type.spendsWallet() {
		if err := s.checkBalance(ctx, account, action.Token, action.Amount); err != nil {
			return nil, err
		}
	}

	coinType := action.Token.CoinType
	switch action.Type {
	case ActionAddCollateral:
		return &stateCheck{
			before: ob.Collateral(coinType),
			expect: verify.ExpectIncrease,
			probe:  s.collateralProbe(action.ObligationId, coinType),
		}, nil
	case ActionWithdrawCollateral:
		collateral := ob.Collateral(coinType)
		if action.Amount.GreaterThan(collateral) {
			return nil, txerr.NewValidationError(
				"amount",
				fmt.Sprintf("amount exceeds deposited %s collateral", action.Token.String()),
			)
		}
		return &stateCheck{
			before: collateral,
			expect: verify.ExpectDecrease,
			probe:  s.collateralProbe(action.ObligationId, coinType),
		}, nil
	case ActionBorrow:
		if err := position.SelectForBorrow(ob); err != nil {
			return nil, err
		}
		return &stateCheck{
			before: ob.Debt(coinType),
			expect: verify.ExpectIncrease,
			probe:  s.debtProbe(action.ObligationId, coinType),
		}, nil
	case ActionRepay, ActionUnlockAndRepay:
		debt := ob.Debt(coinType)
		if !debt.IsPositive() {
			return nil, txerr.NewValidationError(
				"obligation",
				fmt.Sprintf("no outstanding %s debt", action.Token.String()),
			)
		}
		if action.Amount.GreaterThan(debt) {
			return nil, txerr.NewValidationError("amount", "amount exceeds outstanding debt")
		}
		check := &stateCheck{
			before: debt,
			expect: verify.ExpectDecrease,
			probe:  s.debtProbe(action.ObligationId, coinType),
		}
		if action.Amount.Equal(debt) {
			check.expect = verify.ExpectZero
			check.fullRepay = true
		}
		return check, nil
	case ActionUnlock:
		if !ob.LockState.Locked() {
			return nil, txerr.NewValidationError("obligation", "obligation is not locked")
		}
		return nil, nil
	case ActionDepositLiquidity:
		return nil, s.validateLiquidity(ctx, account, action)
	}
	// Supply and withdraw only move wallet funds, which are not reliably
	// observable while the balance provider may serve stale data
	return nil, nil
}

func (s *Submitter) validateLiquidity(ctx context.Context, account string, action *Action) error {
	if action.Venue == "" {
		return txerr.NewValidationError("venue", "select a venue")
	}
	if action.TokenB.CoinType == "" {
		return txerr.NewValidationError("tokenB", "select the second coin")
	}
	if err := validateAmount("amountB", action.AmountB, action.TokenB); err != nil {
		return err
	}
	if err := s.checkBalance(ctx, account, action.TokenB, action.AmountB); err != nil {
		return err
	}
	if err := resolveTickRange(action); err != nil {
		return err
	}
	// Deposits size the second leg from the pair price, so an unknown price
	// blocks the action
	if s.deps.Prices == nil {
		return txerr.NewValidationError("price", "price unavailable, try again later")
	}
	quote, err := s.deps.Prices.Resolve(ctx, action.Venue, action.Token, action.TokenB)
	if err != nil {
		logging.GetLogger().Warn(
			"blocking deposit on unknown price",
			"venue", action.Venue,
			"pair", action.Token.String()+"/"+action.TokenB.String(),
			"tickLower", formatTick(action.TickLower),
			"tickUpper", formatTick(action.TickUpper),
			"error", err,
		)
		return txerr.NewValidationError("price", "price unavailable, try again later")
	}
	logging.GetLogger().Debug(
		"deposit price resolved",
		"pair", quote.Pair,
		"price", quote.Price.String(),
		"source", string(quote.Source),
	)
	if action.TickLower != nil && action.TickUpper != nil {
		rangeLower := price.TickToPrice(*action.TickLower, action.Token.Decimals, action.TokenB.Decimals)
		rangeUpper := price.TickToPrice(*action.TickUpper, action.Token.Decimals, action.TokenB.Decimals)
		if quote.Price.LessThan(rangeLower) || quote.Price.GreaterThanOrEqual(rangeUpper) {
			// Out of range deposits are valid but only use one of the coins
			logging.GetLogger().Info(
				"deposit range excludes the current price",
				"pair", quote.Pair,
				"price", quote.Price.String(),
				"rangeLower", rangeLower.String(),
				"rangeUpper", rangeUpper.String(),
			)
		}
	}
	return nil
}

// resolveTickRange fills the ticks of a deposit from its price range when
// they are not given, widening the range outward to the tick spacing, then
// validates the ticks
func resolveTickRange(action *Action) error {
	if action.TickLower == nil && action.TickUpper == nil &&
		(action.PriceLower != nil || action.PriceUpper != nil) {
		if action.PriceLower == nil || action.PriceUpper == nil {
			return txerr.NewValidationError("priceRange", "set both ends of the price range")
		}
		if action.TickSpacing <= 0 {
			return txerr.NewValidationError("tickSpacing", "tick spacing must be positive")
		}
		lower, err := price.PriceToTick(*action.PriceLower, action.Token.Decimals, action.TokenB.Decimals)
		if err != nil {
			return txerr.NewValidationError("priceLower", err.Error())
		}
		upper, err := price.PriceToTick(*action.PriceUpper, action.Token.Decimals, action.TokenB.Decimals)
		if err != nil {
			return txerr.NewValidationError("priceUpper", err.Error())
		}
		lower = price.AlignTick(lower, action.TickSpacing)
		if price.TickToPrice(upper, action.Token.Decimals, action.TokenB.Decimals).LessThan(*action.PriceUpper) {
			upper++
		}
		if aligned := price.AlignTick(upper, action.TickSpacing); aligned < upper {
			upper = aligned + action.TickSpacing
		}
		action.TickLower = &lower
		action.TickUpper = &upper
	}
	if action.TickLower == nil && action.TickUpper == nil {
		return nil
	}
	if action.TickLower == nil || action.TickUpper == nil {
		return txerr.NewValidationError("ticks", "set both ends of the price range")
	}
	return price.ValidateTickRange(*action.TickLower, *action.TickUpper, action.TickSpacing)
}

func validateAmount(field string, amount decimal.Decimal, token common.Token) error {
	if !amount.IsPositive() {
		return txerr.NewValidationError(field, "enter an amount greater than zero")
	}
	if common.ToBaseUnits(amount, token.Decimals).Sign() <= 0 {
		return txerr.NewValidationError(
			field,
			fmt.Sprintf("amount is below the smallest %s unit", token.String()),
		)
	}
	return nil
}

func (s *Submitter) checkBalance(
	ctx context.Context,
	account string,
	token common.Token,
	amount decimal.Decimal,
) error {
	balance := s.deps.Balances.GetBalance(ctx, account, []string{token.CoinType}, false)
	if amount.GreaterThan(balance) {
		return txerr.NewValidationError(
			"amount",
			fmt.Sprintf("insufficient %s balance", token.String()),
		)
	}
	return nil
}

// obligation returns the cached obligation or loads it from the provider
func (s *Submitter) obligation(
	ctx context.Context,
	account string,
	obligationId string,
) (*position.Obligation, error) {
	ob, err := s.deps.Positions.Find(account, obligationId)
	if err == nil {
		return ob, nil
	}
	if !errors.Is(err, position.ErrObligationNotFound) {
		return nil, err
	}
	ob, err = s.freshObligation(ctx, account, obligationId)
	if errors.Is(err, position.ErrObligationNotFound) {
		return nil, txerr.NewValidationError("obligation", "obligation not found")
	}
	return ob, err
}

func (s *Submitter) freshObligation(
	ctx context.Context,
	account string,
	obligationId string,
) (*position.Obligation, error) {
	obligations, err := s.deps.Positions.GetObligations(ctx, account)
	if err != nil {
		return nil, err
	}
	for _, o := range obligations {
		if o.ObligationId == obligationId {
			return o, nil
		}
	}
	return nil, position.ErrObligationNotFound
}

func (s *Submitter) debtProbe(
	obligationId string,
	coinType string,
) func(context.Context, string) (decimal.Decimal, error) {
	return func(ctx context.Context, account string) (decimal.Decimal, error) {
		ob, err := s.freshObligation(ctx, account, obligationId)
		if err != nil {
			return decimal.Zero, err
		}
		return ob.Debt(coinType), nil
	}
}

func (s *Submitter) collateralProbe(
	obligationId string,
	coinType string,
) func(context.Context, string) (decimal.Decimal, error) {
	return func(ctx context.Context, account string) (decimal.Decimal, error) {
		ob, err := s.freshObligation(ctx, account, obligationId)
		if err != nil {
			return decimal.Zero, err
		}
		return ob.Collateral(coinType), nil
	}
}
