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
	"strings"
)

// LockSignals collects every lock indicator a provider reported for an
// obligation. Providers expose these inconsistently, so any single one may be
// missing
type LockSignals struct {
	// Generic "locked" flag with no lock type
	Locked bool `json:"locked,omitempty"`
	// Explicit per-program flags
	BoostLocked     bool `json:"boostLocked,omitempty"`
	IncentiveLocked bool `json:"incentiveLocked,omitempty"`
	// Free-form lock type strings, e.g. "incentive", "borrow_incentive",
	// "veSCA". Providers may report more than one and they may disagree
	LockTypes []string `json:"lockTypes,omitempty"`
	// Staked in an incentive pool
	IncentiveStaked bool `json:"incentiveStaked,omitempty"`
}

// RawObligation is an obligation as reported by a provider after shape
// normalization
type RawObligation struct {
	ObligationId string      `json:"obligationId"`
	Collaterals  []Entry     `json:"collaterals"`
	Borrows      []Entry     `json:"borrows"`
	Signals      LockSignals `json:"signals"`
}

// ClassifyLock combines the signals with OR semantics: any incentive
// signal wins, then any boost signal. A bare lock flag is treated as an
// incentive lock since that is the more restrictive state
func ClassifyLock(signals LockSignals) LockState {
	incentive := signals.IncentiveLocked || signals.IncentiveStaked
	boost := signals.BoostLocked
	locked := signals.Locked
	for _, raw := range signals.LockTypes {
		lockType := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case lockType == "" || lockType == "none" || lockType == "unlocked":
		case strings.Contains(lockType, "incentive"):
			incentive = true
		case strings.Contains(lockType, "boost"), strings.Contains(lockType, "vesca"):
			boost = true
		default:
			locked = true
		}
	}
	switch {
	case incentive:
		return LockStateIncentiveLocked
	case boost:
		return LockStateBoostLocked
	case locked:
		return LockStateIncentiveLocked
	default:
		return LockStateUnlocked
	}
}

// Normalize converts a raw obligation into an Obligation
func (r RawObligation) Normalize() *Obligation {
	return &Obligation{
		ObligationId: r.ObligationId,
		Collaterals:  nonNilEntries(r.Collaterals),
		Borrows:      nonNilEntries(r.Borrows),
		LockState:    ClassifyLock(r.Signals),
	}
}

func nonNilEntries(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return entries
}
