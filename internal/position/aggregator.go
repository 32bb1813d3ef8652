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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/internal/common"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/blinklabs-io/tally/internal/storage"
	"github.com/blinklabs-io/tally/internal/txerr"
	"github.com/shopspring/decimal"
)

// ErrObligationNotFound is returned when an obligation id is not cached for
// the account
var ErrObligationNotFound = errors.New("obligation not found")

// Source fetches raw obligations for an account
type Source interface {
	FetchObligations(ctx context.Context, account string) ([]RawObligation, error)
}

// SnapshotStore persists obligation snapshots
type SnapshotStore interface {
	SaveSnapshot(kind, id string, v any) error
	LoadSnapshot(kind, id string, v any) (time.Time, bool, error)
}

// Update is sent to subscribers whenever an account's obligations change
type Update struct {
	Account     string        `json:"account"`
	Obligations []*Obligation `json:"obligations"`
	Optimistic  bool          `json:"optimistic,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

type accountObligations struct {
	obligations []*Obligation
	fetchedAt   time.Time
}

// Aggregator merges provider obligation records into display-ready
// obligations
type Aggregator struct {
	source        Source
	store         SnapshotStore
	accounts      map[string]*accountObligations
	accountsMu    sync.RWMutex
	subscribers   []chan *Update
	subscribersMu sync.RWMutex
	stopped       bool
}

// NewAggregator creates a new Aggregator. store may be nil
func NewAggregator(source Source, store SnapshotStore) *Aggregator {
	return &Aggregator{
		source:   source,
		store:    store,
		accounts: make(map[string]*accountObligations),
	}
}

// GetObligations fetches the account's obligations fresh from the provider.
// An empty account returns no obligations
func (a *Aggregator) GetObligations(
	ctx context.Context,
	account string,
) ([]*Obligation, error) {
	if account == "" {
		return []*Obligation{}, nil
	}
	raw, err := a.source.FetchObligations(ctx, account)
	if err != nil {
		if txerr.KindOf(err) == txerr.KindUnknown {
			err = txerr.NewConnectivityError("fetch obligations", err)
		}
		return nil, err
	}
	obligations := make([]*Obligation, 0, len(raw))
	for _, r := range raw {
		obligations = append(obligations, r.Normalize())
	}
	a.set(account, obligations, false)
	return obligations, nil
}

// Cached returns the last known obligations for the account, falling back
// to the persisted snapshot
func (a *Aggregator) Cached(account string) ([]*Obligation, time.Time, bool) {
	a.accountsMu.RLock()
	entry, ok := a.accounts[account]
	a.accountsMu.RUnlock()
	if ok {
		return entry.obligations, entry.fetchedAt, true
	}
	if a.store == nil {
		return nil, time.Time{}, false
	}
	var obligations []*Obligation
	updatedAt, found, err := a.store.LoadSnapshot(storage.KindObligations, account, &obligations)
	if err != nil {
		logging.GetLogger().Warn(
			"failed to load obligation snapshot",
			"account", account,
			"error", err,
		)
		return nil, time.Time{}, false
	}
	if !found {
		return nil, time.Time{}, false
	}
	return obligations, updatedAt, true
}

// Find returns a cached obligation by id
func (a *Aggregator) Find(account, obligationId string) (*Obligation, error) {
	obligations, _, ok := a.Cached(account)
	if !ok {
		return nil, ErrObligationNotFound
	}
	for _, o := range obligations {
		if o.ObligationId == obligationId {
			return o, nil
		}
	}
	return nil, ErrObligationNotFound
}

// ZeroDebt optimistically clears the borrow of coinType on an obligation
// after a verified repay. The next fetch replaces it with provider data
func (a *Aggregator) ZeroDebt(account, obligationId, coinType string) error {
	// A restart leaves only the snapshot until the next load
	obligations, _, ok := a.Cached(account)
	if !ok {
		return ErrObligationNotFound
	}
	updated := make([]*Obligation, 0, len(obligations))
	found := false
	for _, o := range obligations {
		if o.ObligationId != obligationId {
			updated = append(updated, o)
			continue
		}
		found = true
		tmp := *o
		tmp.Borrows = make([]Entry, 0, len(o.Borrows))
		for _, borrow := range o.Borrows {
			if common.NormalizeCoinType(borrow.CoinType) == common.NormalizeCoinType(coinType) {
				borrow.Amount = decimal.Zero
				borrow.USDValue = decimal.Zero
			}
			tmp.Borrows = append(tmp.Borrows, borrow)
		}
		updated = append(updated, &tmp)
	}
	if !found {
		return ErrObligationNotFound
	}
	a.set(account, updated, true)
	return nil
}

// SelectForBorrow validates that an obligation can be used for borrowing
func SelectForBorrow(o *Obligation) error {
	if o == nil {
		return txerr.NewValidationError("obligation", "no obligation selected")
	}
	if o.IsEmpty() {
		return txerr.NewValidationError(
			"obligation",
			"this obligation has no collateral; deposit collateral before borrowing",
		)
	}
	return nil
}

func (a *Aggregator) set(account string, obligations []*Obligation, optimistic bool) {
	now := time.Now()
	a.accountsMu.Lock()
	// Last writer for an account wins
	a.accounts[account] = &accountObligations{
		obligations: obligations,
		fetchedAt:   now,
	}
	a.accountsMu.Unlock()

	if a.store != nil {
		if err := a.store.SaveSnapshot(storage.KindObligations, account, obligations); err != nil {
			logging.GetLogger().Error(
				"failed to persist obligations",
				"account", account,
				"error", err,
			)
		}
	}

	a.notifySubscribers(&Update{
		Account:     account,
		Obligations: obligations,
		Optimistic:  optimistic,
		Timestamp:   now,
	})

	logging.GetLogger().Debug(
		"obligations updated",
		"account", account,
		"count", len(obligations),
		"optimistic", optimistic,
	)
}

// notifySubscribers sends an update to all subscribers
func (a *Aggregator) notifySubscribers(update *Update) {
	a.subscribersMu.RLock()
	defer a.subscribersMu.RUnlock()

	for _, ch := range a.subscribers {
		select {
		case ch <- update:
		default:
			// Channel full, skip
		}
	}
}

// Subscribe returns a channel that receives obligation updates
func (a *Aggregator) Subscribe() <-chan *Update {
	ch := make(chan *Update, 100)

	a.subscribersMu.Lock()
	defer a.subscribersMu.Unlock()
	if a.stopped {
		close(ch)
		return ch
	}
	a.subscribers = append(a.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (a *Aggregator) Unsubscribe(ch <-chan *Update) {
	a.subscribersMu.Lock()
	defer a.subscribersMu.Unlock()

	for i, sub := range a.subscribers {
		if sub == ch {
			a.subscribers = append(a.subscribers[:i], a.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Stop closes all subscriber channels (idempotent - safe to call multiple times)
func (a *Aggregator) Stop() {
	a.subscribersMu.Lock()
	defer a.subscribersMu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	for _, ch := range a.subscribers {
		close(ch)
	}
	a.subscribers = nil
}

// String returns a short description for logging
func (u *Update) String() string {
	return fmt.Sprintf("Update[%s] %d obligations", u.Account, len(u.Obligations))
}
