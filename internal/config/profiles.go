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

package config

import "sort"

type VenueType int

const (
	VenueTypeNone VenueType = iota
	VenueTypeClmm
	VenueTypeAmm
	VenueTypeOrderBook
)

func (t VenueType) String() string {
	switch t {
	case VenueTypeClmm:
		return "clmm"
	case VenueTypeAmm:
		return "amm"
	case VenueTypeOrderBook:
		return "orderbook"
	default:
		return "none"
	}
}

// VenueProfile describes built-in defaults for a trading venue
type VenueProfile struct {
	Name        string
	Type        VenueType
	SourceOrder []string
}

// GetVenueProfile returns the built-in profile for a venue on the configured network
func GetVenueProfile(venue string) (VenueProfile, bool) {
	networkProfiles, ok := VenueProfiles[globalConfig.Network]
	if !ok {
		return VenueProfile{}, false
	}
	profile, ok := networkProfiles[venue]
	return profile, ok
}

func GetAvailableVenues() []string {
	var ret []string
	if networkProfiles, ok := VenueProfiles[globalConfig.Network]; ok {
		for k := range networkProfiles {
			ret = append(ret, k)
		}
	}
	sort.Strings(ret)
	return ret
}

// On-chain pool lookups are unreliable for some venues while the off-chain
// aggregator lacks coverage for others, so the order differs per venue
var VenueProfiles = map[string]map[string]VenueProfile{
	"testnet": {
		"cetus": {
			Name:        "Cetus",
			Type:        VenueTypeClmm,
			SourceOrder: []string{PriceSourceOnchain, PriceSourceOffchain},
		},
	},
	"mainnet": {
		"cetus": {
			Name:        "Cetus",
			Type:        VenueTypeClmm,
			SourceOrder: []string{PriceSourceOnchain, PriceSourceOffchain},
		},
		"turbos": {
			Name:        "Turbos",
			Type:        VenueTypeClmm,
			SourceOrder: []string{PriceSourceOffchain, PriceSourceOnchain},
		},
		"kriya": {
			Name:        "Kriya",
			Type:        VenueTypeAmm,
			SourceOrder: []string{PriceSourceOffchain, PriceSourceOnchain},
		},
		"deepbook": {
			Name:        "DeepBook",
			Type:        VenueTypeOrderBook,
			SourceOrder: []string{PriceSourceOffchain},
		},
	},
}
