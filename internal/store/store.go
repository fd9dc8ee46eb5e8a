// Package store implements the embedded key/value store holding the merged
// recent chain per (protocol, network), per spec.md §4.4.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/blockheadhq/blockhead/internal/chain"
)

const (
	bucketName  = "blockchain"
	sentinelKey = "keep"
	sentinelVal = "1"
)

// Store wraps a single bbolt file. It is process-singleton: the Store owns
// the embedded database file for the life of the process.
type Store struct {
	db          *bbolt.DB
	keepHistory int
}

// Open opens (creating if absent) the bbolt file at path. On first creation
// it writes a sentinel key before returning, working around an embedded
// store quirk where a freshly created empty file cannot be reopened
// (spec.md §4.4).
func Open(path string, keepHistory int) (*Store, error) {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chain.ErrStoreIO, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		if isNew {
			return b.Put([]byte(sentinelKey), []byte(sentinelVal))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init bucket: %v", chain.ErrStoreIO, err)
	}

	return &Store{db: db, keepHistory: keepHistory}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored chain for (protocol, network). A missing key
// returns chain.ErrNotFound; callers default to an empty Blockchain.
func (s *Store) Get(protocol chain.Protocol, network chain.Network) (chain.Blockchain, error) {
	var out chain.Blockchain
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(chain.Key(protocol, network)))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return chain.Blockchain{}, fmt.Errorf("%w: get %s/%s: %v", chain.ErrStoreIO, protocol, network, err)
	}
	if !found {
		return chain.Blockchain{}, chain.ErrNotFound
	}
	return out, nil
}

// Set performs the read-modify-write merge policy of spec.md §4.4 inside a
// single write transaction: if the stored height already covers incoming,
// Set is an idempotent no-op; otherwise blocks are unioned by height
// (incoming wins ties), sorted, and truncated to keepHistory.
func (s *Store) Set(incoming chain.Blockchain, protocol chain.Protocol, network chain.Network) error {
	key := []byte(chain.Key(protocol, network))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return fmt.Errorf("%w: %v", chain.ErrStoreIO, err)
		}

		var stored chain.Blockchain
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("%w: decode stored value: %v", chain.ErrStoreIO, err)
			}
		}

		if stored.Height >= incoming.Height {
			return nil
		}

		merged := chain.Merge(stored, incoming, s.keepHistory)
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("%w: encode merged value: %v", chain.ErrStoreIO, err)
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("%w: %v", chain.ErrStoreIO, err)
		}
		return nil
	})
}

// AllKnown returns every (protocol, network) pair currently present in the
// store, used by the REST surface's /protocols endpoint to enumerate
// results without requiring the caller to already know the configuration.
func (s *Store) AllKnown() (map[chain.Protocol]map[chain.Network]chain.Blockchain, error) {
	out := make(map[chain.Protocol]map[chain.Network]chain.Blockchain)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			key := string(k)
			if key == sentinelKey {
				return nil
			}
			protocol, network, ok := splitKey(key)
			if !ok {
				return nil
			}
			var bc chain.Blockchain
			if err := json.Unmarshal(v, &bc); err != nil {
				return fmt.Errorf("%w: decode %s: %v", chain.ErrStoreIO, key, err)
			}
			if out[protocol] == nil {
				out[protocol] = make(map[chain.Network]chain.Blockchain)
			}
			out[protocol][network] = bc
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrStoreIO, err)
	}
	return out, nil
}

func splitKey(key string) (chain.Protocol, chain.Network, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '-' {
			return chain.Protocol(key[:i]), chain.Network(key[i+1:]), true
		}
	}
	return "", "", false
}
