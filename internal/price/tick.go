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
	"fmt"

	"github.com/blinklabs-io/tally/internal/txerr"
)

const (
	MinTick = -443636
	MaxTick = 443636
)

// ValidateTickRange checks a liquidity range before a deposit is attempted
func ValidateTickRange(lower, upper, spacing int32) error {
	if spacing <= 0 {
		return txerr.NewValidationError("tickSpacing", "tick spacing must be positive")
	}
	if lower < MinTick || upper > MaxTick {
		return txerr.NewValidationError(
			"range",
			fmt.Sprintf("ticks must be within [%d, %d]", MinTick, MaxTick),
		)
	}
	if lower >= upper {
		return txerr.NewValidationError("range", "lower price must be below upper price")
	}
	if lower%spacing != 0 || upper%spacing != 0 {
		return txerr.NewValidationError(
			"range",
			fmt.Sprintf("ticks must be multiples of the tick spacing %d", spacing),
		)
	}
	return nil
}

// AlignTick rounds tick down to the nearest multiple of spacing
func AlignTick(tick, spacing int32) int32 {
	if spacing <= 0 {
		return tick
	}
	rem := tick % spacing
	if rem < 0 {
		rem += spacing
	}
	return tick - rem
}
