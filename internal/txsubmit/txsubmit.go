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

// Package txsubmit validates user actions, submits them through the wallet
// and reconciles local state with the outcome
package txsubmit

import (
	"context"
	"errors"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/metrics"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/provider"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/blinklabs-io/tally/internal/verify"
	"github.com/shopspring/decimal"
)

// Delay before refreshing caches after a transaction
const DefaultRefreshDelay = 2 * time.Second

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// Outcome unknown, verification in progress
	StatusPending Status = "pending"
)

// Result describes what happened to a submitted action
type Result struct {
	Action      ActionType `json:"action"`
	Status      Status     `json:"status"`
	Digest      string     `json:"digest,omitempty"`
	ExplorerUrl string     `json:"explorerUrl,omitempty"`
	WatchId     string     `json:"watchId,omitempty"`
	Message     string     `json:"message,omitempty"`
	Remediation string     `json:"remediation,omitempty"`
}

type Builder interface {
	Build(ctx context.Context, req *provider.BuildRequest) (string, error)
}

// Executor signs and executes as the connected account
type Executor interface {
	Account() string
	SignAndExecute(ctx context.Context, txBytes string) (*provider.Execution, error)
}

type Balances interface {
	GetBalance(ctx context.Context, account string, coinTypes []string, forceRefresh bool) decimal.Decimal
	Invalidate(account string)
}

type Positions interface {
	GetObligations(ctx context.Context, account string) ([]*position.Obligation, error)
	Find(account, obligationId string) (*position.Obligation, error)
	ZeroDebt(account, obligationId, coinType string) error
}

type Prices interface {
	Resolve(ctx context.Context, venue string, a, b common.Token) (price.Quote, error)
}

type Verifier interface {
	Register(label string, before decimal.Decimal, expect verify.Direction, probe verify.Probe, cb verify.Callback) string
}

type Debouncer interface {
	Trigger(key string, fn func()) bool
}

// Deps are the services a Submitter works with
type Deps struct {
	Builder   Builder
	Executor  Executor
	Balances  Balances
	Positions Positions
	Prices    Prices
	Verifier  Verifier
	Debouncer Debouncer
	Metrics   *metrics.Metrics
	// Explorer base URL for transaction links
	ExplorerUrl string
}

type Submitter struct {
	deps Deps
}

var globalSubmitter *Submitter

func New(deps Deps) *Submitter {
	return &Submitter{deps: deps}
}

// Start creates the process-wide submitter
func Start(deps Deps) *Submitter {
	globalSubmitter = New(deps)
	return globalSubmitter
}

func GetSubmitter() *Submitter {
	return globalSubmitter
}

// Submit validates and executes action. Validation and on-chain failures are
// returned as errors along with a failure result. An outcome that cannot be
// determined is verified in the background and reported as pending
func (s *Submitter) Submit(ctx context.Context, action *Action) (*Result, error) {
	logger := logging.GetLogger()
	account := s.deps.Executor.Account()
	if account == "" {
		return nil, txerr.NewValidationError("wallet", "connect a wallet first")
	}
	check, err := s.validate(ctx, account, action)
	if err != nil {
		if txerr.KindOf(err) == txerr.KindValidation {
			s.deps.Metrics.TxOutcome(string(action.Type), "invalid")
		}
		return nil, err
	}

	txBytes, err := s.deps.Builder.Build(ctx, action.buildRequest(account))
	if err != nil {
		return nil, err
	}
	exec, err := s.deps.Executor.SignAndExecute(ctx, txBytes)
	if err != nil {
		if txerr.KindOf(err) != txerr.KindConnectivity {
			return nil, err
		}
		// The transaction may have landed before the connection dropped
		logger.Warn(
			"lost connection during execution",
			"action", action.String(),
			"error", err,
		)
		exec = &provider.Execution{Status: provider.ExecutionUnknown}
	}

	ret := &Result{
		Action: action.Type,
		Digest: exec.Digest,
	}
	if exec.Digest != "" && s.deps.ExplorerUrl != "" {
		ret.ExplorerUrl = common.ExplorerTxURL(s.deps.ExplorerUrl, exec.Digest)
	}

	switch exec.Status {
	case provider.ExecutionSuccess:
		ret.Status = StatusSuccess
		s.onSuccess(account, action, check)
		logger.Info(
			"transaction succeeded",
			"action", action.String(),
			"digest", exec.Digest,
		)
		return ret, nil
	case provider.ExecutionFailure:
		chainErr := txerr.FromExecution(exec.Error)
		ret.Status = StatusFailure
		ret.Message = chainErr.Message
		ret.Remediation = chainErr.Remediation
		s.deps.Metrics.TxOutcome(string(action.Type), "failure")
		logger.Warn(
			"transaction failed",
			"action", action.String(),
			"digest", exec.Digest,
			"error", exec.Error,
		)
		return ret, chainErr
	default:
		return s.verifyLater(account, action, check, ret)
	}
}

// stateCheck is the value a successful action should change
type stateCheck struct {
	before decimal.Decimal
	expect verify.Direction
	probe  func(ctx context.Context, account string) (decimal.Decimal, error)
	// A full repay clears the debt locally on success
	fullRepay bool
}

func (s *Submitter) verifyLater(
	account string,
	action *Action,
	check *stateCheck,
	ret *Result,
) (*Result, error) {
	logger := logging.GetLogger()
	ret.Status = StatusPending
	if s.deps.Verifier == nil || check == nil {
		s.deps.Metrics.TxOutcome(string(action.Type), "unknown")
		ret.Message = "transaction status unknown; refresh to check your position"
		s.scheduleRefresh(account)
		return ret, nil
	}
	s.deps.Metrics.TxOutcome(string(action.Type), "pending")
	ret.WatchId = s.deps.Verifier.Register(
		action.label(),
		check.before,
		check.expect,
		func(ctx context.Context) (decimal.Decimal, error) {
			return check.probe(ctx, account)
		},
		func(result verify.Result) {
			if result.Outcome == verify.OutcomeSuccess {
				s.onSuccess(account, action, check)
				return
			}
			s.deps.Metrics.TxOutcome(string(action.Type), "unknown")
			s.scheduleRefresh(account)
		},
	)
	logger.Info(
		"transaction outcome ambiguous, verifying",
		"action", action.String(),
		"digest", ret.Digest,
		"watchId", ret.WatchId,
	)
	return ret, nil
}

func (s *Submitter) onSuccess(account string, action *Action, check *stateCheck) {
	s.deps.Metrics.TxOutcome(string(action.Type), "success")
	if check != nil && check.fullRepay {
		if err := s.deps.Positions.ZeroDebt(account, action.ObligationId, action.Token.CoinType); err != nil &&
			!errors.Is(err, position.ErrObligationNotFound) {
			logging.GetLogger().Warn(
				"failed to clear repaid debt",
				"obligationId", action.ObligationId,
				"error", err,
			)
		}
	}
	s.scheduleRefresh(account)
}

// scheduleRefresh reloads balances and obligations once the burst of
// transactions for account settles
func (s *Submitter) scheduleRefresh(account string) {
	refresh := func() {
		s.deps.Balances.Invalidate(account)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.deps.Positions.GetObligations(ctx, account); err != nil {
			logging.GetLogger().Warn(
				"failed to refresh obligations",
				"account", account,
				"error", err,
			)
		}
	}
	if s.deps.Debouncer == nil {
		go refresh()
		return
	}
	s.deps.Debouncer.Trigger("refresh:"+account, refresh)
}
