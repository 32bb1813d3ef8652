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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/fetch"
	"github.com/blinklabs-io/tally/internal/position"
	"github.com/blinklabs-io/tally/internal/price"
	"github.com/blinklabs-io/tally/internal/txsubmit"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	coinTypes := r.URL.Query()["coinType"]
	refresh := r.URL.Query().Get("refresh") == "true"
	balance := a.deps.Balances.GetBalance(r.Context(), account, coinTypes, refresh)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   account,
		"coinTypes": coinTypes,
		"balance":   balance,
	})
}

func (a *API) handleCoins(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	refresh := r.URL.Query().Get("refresh") == "true"
	coins := a.deps.Balances.ListBalances(r.Context(), account, refresh)
	if coins == nil {
		coins = []common.AssetBalance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"coins":   coins,
		"count":   len(coins),
	})
}

type obligationsResponse struct {
	Account     string                 `json:"account"`
	State       fetch.State            `json:"state"`
	Attempts    int                    `json:"attempts"`
	Remaining   int                    `json:"remaining"`
	CanRetry    bool                   `json:"canRetry"`
	Error       string                 `json:"error,omitempty"`
	Obligations []*position.Obligation `json:"obligations"`
	UpdatedAt   *time.Time             `json:"updatedAt,omitempty"`
}

func obligationsKey(account string) string {
	return "obligations:" + account
}

func (a *API) loadObligations(account string) func(context.Context) ([]*position.Obligation, error) {
	return func(ctx context.Context) ([]*position.Obligation, error) {
		return a.deps.Positions.GetObligations(ctx, account)
	}
}

func (a *API) obligationsResult(account string, res fetch.Result[[]*position.Obligation]) obligationsResponse {
	resp := obligationsResponse{
		Account:     account,
		State:       res.State,
		Attempts:    res.Attempts,
		Remaining:   res.Remaining,
		CanRetry:    res.CanRetry(),
		Obligations: []*position.Obligation{},
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if res.State != fetch.StateLoaded {
		return resp
	}
	// The aggregator holds the latest data, including optimistic updates
	// made after the load
	if cached, updatedAt, ok := a.deps.Positions.Cached(account); ok {
		resp.Obligations = cached
		resp.UpdatedAt = &updatedAt
	} else if res.Value != nil {
		resp.Obligations = res.Value
	}
	return resp
}

func (a *API) handleObligations(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	key := obligationsKey(account)
	if r.URL.Query().Get("refresh") == "true" && a.deps.Obligations.Get(key).State == fetch.StateLoaded {
		a.deps.Obligations.Reset(key)
	}
	res := a.deps.Obligations.Fetch(r.Context(), key, a.loadObligations(account))
	writeJSON(w, http.StatusOK, a.obligationsResult(account, res))
}

func (a *API) handleRetryObligations(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	key := obligationsKey(account)
	if r.URL.Query().Get("reset") == "true" {
		a.deps.Obligations.Reset(key)
		res := a.deps.Obligations.Fetch(r.Context(), key, a.loadObligations(account))
		writeJSON(w, http.StatusOK, a.obligationsResult(account, res))
		return
	}
	res, err := a.deps.Obligations.Retry(r.Context(), key, a.loadObligations(account))
	resp := a.obligationsResult(account, res)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, fetch.ErrAttemptsExhausted):
		resp.Error = err.Error()
		writeJSON(w, http.StatusTooManyRequests, resp)
	case errors.Is(err, fetch.ErrNotMissing):
		writeJSON(w, http.StatusConflict, resp)
	default:
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

// tokenFromQuery reads a token from the "<prefix>" and "<prefix>Decimals"
// query parameters
func tokenFromQuery(r *http.Request, prefix string) (common.Token, bool) {
	q := r.URL.Query()
	coinType := q.Get(prefix)
	if coinType == "" {
		return common.Token{}, false
	}
	decimals, err := strconv.ParseInt(q.Get(prefix+"Decimals"), 10, 32)
	if err != nil {
		return common.Token{}, false
	}
	return common.Token{
		CoinType: coinType,
		Symbol:   q.Get(prefix + "Symbol"),
		Decimals: int32(decimals),
	}, true
}

func (a *API) handlePrice(w http.ResponseWriter, r *http.Request) {
	venue := r.URL.Query().Get("venue")
	base, ok := tokenFromQuery(r, "base")
	if !ok {
		badRequest(w, "base and baseDecimals are required")
		return
	}
	quote, ok := tokenFromQuery(r, "quote")
	if !ok {
		badRequest(w, "quote and quoteDecimals are required")
		return
	}
	q, err := a.deps.Prices.Resolve(r.Context(), venue, base, quote)
	if err != nil {
		if errors.Is(err, price.ErrPriceUnknown) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"pair":  base.String() + "/" + quote.String(),
				"state": "unknown",
				"error": err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type venueResponse struct {
	Venue       string   `json:"venue"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	SourceOrder []string `json:"sourceOrder"`
}

// handleVenues lists the built-in venues with their effective price source
// order, which may be overridden in config
func (a *API) handleVenues(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetConfig()
	venues := config.GetAvailableVenues()
	ret := make([]venueResponse, 0, len(venues))
	for _, venue := range venues {
		profile, ok := config.GetVenueProfile(venue)
		if !ok {
			continue
		}
		ret = append(ret, venueResponse{
			Venue:       venue,
			Name:        profile.Name,
			Type:        profile.Type.String(),
			SourceOrder: cfg.SourceOrder(venue),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"network": cfg.Network,
		"venues":  ret,
	})
}

type overrideRequest struct {
	Base  common.Token    `json:"base"`
	Quote common.Token    `json:"quote"`
	Price decimal.Decimal `json:"price"`
}

func decodeOverride(r *http.Request) (*overrideRequest, error) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Base.CoinType == "" || req.Quote.CoinType == "" {
		return nil, errors.New("base and quote coin types are required")
	}
	return &req, nil
}

func (a *API) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOverride(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.deps.Prices.SetOverride(req.Base, req.Quote, req.Price); err != nil {
		badRequest(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOverride(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.deps.Prices.ClearOverride(req.Base, req.Quote); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWallet(w http.ResponseWriter, r *http.Request) {
	account := a.deps.Session.Account()
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   account,
		"connected": account != "",
	})
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	account, err := a.deps.Session.Connect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   account,
		"connected": true,
	})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	a.deps.Session.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var action txsubmit.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		badRequest(w, "invalid action: "+err.Error())
		return
	}
	res, err := a.deps.Submitter.Submit(r.Context(), &action)
	if res != nil {
		// Failed executions still carry a digest and explorer link
		status := http.StatusOK
		if res.Status == txsubmit.StatusPending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
