// Copyright 2025 Blink Labs Software
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

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/internal/logging"
	"github.com/dgraph-io/badger/v4"
)

const (
	fingerprintKey    = "config_fingerprint"
	snapshotKeyPrefix = "snapshot_"
)

// Snapshot kinds
const (
	KindBalances      = "balances"
	KindObligations   = "obligations"
	KindPriceOverride = "price_override"
)

type Storage struct {
	db *badger.DB
}

// snapshot is the stored envelope around a JSON value
type snapshot struct {
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

var globalStorage = &Storage{}

func (s *Storage) Load() error {
	cfg := config.GetConfig()
	badgerOpts := badger.DefaultOptions(cfg.Storage.Directory).
		WithLogger(NewBadgerLogger()).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	return s.open(badgerOpts, cfg.Network)
}

// OpenInMemory opens a throwaway in-memory database
func OpenInMemory() (*Storage, error) {
	s := &Storage{}
	badgerOpts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	if err := s.open(badgerOpts, "memory"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) open(badgerOpts badger.Options, network string) error {
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	s.db = db
	if err := s.compareFingerprint(network); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the storage
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// compareFingerprint refuses to reuse a database written for another network
func (s *Storage) compareFingerprint(network string) error {
	fingerprint := "network=" + network
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprintKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return txn.Set([]byte(fingerprintKey), []byte(fingerprint))
			}
			return err
		}
		return item.Value(func(v []byte) error {
			if string(v) != fingerprint {
				return fmt.Errorf(
					"config fingerprint in DB doesn't match current config: %s",
					v,
				)
			}
			return nil
		})
	})
	return err
}

// SaveSnapshot persists v as JSON under the given kind and id
func (s *Storage) SaveSnapshot(kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s snapshot: %w", kind, err)
	}
	envelope, err := json.Marshal(snapshot{
		UpdatedAt: time.Now(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s snapshot: %w", kind, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey(kind, id)), envelope)
	})
	if err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", kind, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot for kind and id into v. The returned
// bool is false if no snapshot exists
func (s *Storage) LoadSnapshot(
	kind, id string,
	v any,
) (time.Time, bool, error) {
	var envelope snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey(kind, id)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &envelope)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal %s snapshot: %w", kind, err)
	}
	return envelope.UpdatedAt, true, nil
}

// LoadAllSnapshots calls fn with the id and raw JSON of every snapshot of
// the given kind
func (s *Storage) LoadAllSnapshots(
	kind string,
	fn func(id string, data []byte) error,
) error {
	logger := logging.GetLogger()
	prefix := snapshotKeyPrefix + kind + ":"
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			_, id, err := ParseSnapshotKey(string(item.Key()))
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				var envelope snapshot
				if err := json.Unmarshal(val, &envelope); err != nil {
					logger.Warn(
						"failed to unmarshal snapshot",
						"key", string(item.Key()),
						"error", err,
					)
					return nil // Continue with other snapshots
				}
				return fn(id, envelope.Data)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load %s snapshots: %w", kind, err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot from storage
func (s *Storage) DeleteSnapshot(kind, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapshotKey(kind, id)))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s snapshot: %w", kind, err)
	}
	return nil
}

// snapshotKey generates the storage key for a snapshot
func snapshotKey(kind, id string) string {
	return snapshotKeyPrefix + kind + ":" + id
}

// ParseSnapshotKey extracts kind and id from a storage key
func ParseSnapshotKey(key string) (kind, id string, err error) {
	if !strings.HasPrefix(key, snapshotKeyPrefix) {
		return "", "", errors.New("invalid snapshot key prefix")
	}
	parts := strings.SplitN(
		strings.TrimPrefix(key, snapshotKeyPrefix),
		":",
		2,
	)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", errors.New("invalid snapshot key format")
	}
	return parts[0], parts[1], nil
}

func GetStorage() *Storage {
	return globalStorage
}
