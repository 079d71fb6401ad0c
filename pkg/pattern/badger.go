package pattern

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefix for pattern records. A single byte keeps keys compact.
const prefixPattern = byte(0x01)

// BadgerDatabase is a persistent pattern store backed by BadgerDB.
//
// Use for the cold and archive tiers: payloads demoted out of RAM land
// here and survive restarts. All operations run inside Badger
// transactions, so concurrent access is safe.
//
// Example:
//
//	db, err := pattern.NewBadgerDatabase(pattern.BadgerOptions{
//		DataDir: "./data/archive",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.Store(&pattern.Pattern{ID: 42, Confidence: 0.9})
type BadgerDatabase struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures a BadgerDatabase.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs Badger without disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// NewBadgerDatabase opens (or creates) a persistent pattern store.
func NewBadgerDatabase(opts BadgerOptions) (*BadgerDatabase, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts.InMemory = opts.InMemory
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil // Badger's own logging is too chatty for a library
	if opts.InMemory {
		bopts.Dir = ""
		bopts.ValueDir = ""
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("pattern: opening badger store: %w", err)
	}
	return &BadgerDatabase{db: db}, nil
}

// patternKey builds the storage key for a pattern ID.
func patternKey(id PatternID) []byte {
	key := make([]byte, 9)
	key[0] = prefixPattern
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	return key
}

// Store inserts a new pattern.
func (b *BadgerDatabase) Store(p *Pattern) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == InvalidPattern {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	key := patternKey(p.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("pattern: marshaling: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Retrieve returns the pattern with the given ID.
func (b *BadgerDatabase) Retrieve(id PatternID) (*Pattern, error) {
	if id == InvalidPattern {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var p Pattern
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(patternKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update replaces an existing pattern.
func (b *BadgerDatabase) Update(p *Pattern) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == InvalidPattern {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	key := patternKey(p.ID)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("pattern: marshaling: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Delete removes a pattern. Unknown IDs are ignored.
func (b *BadgerDatabase) Delete(id PatternID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(patternKey(id))
	})
}

// Count returns the number of stored patterns by scanning keys.
func (b *BadgerDatabase) Count() int64 {
	if err := b.checkOpen(); err != nil {
		return 0
	}

	var count int64
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixPattern}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// IDs returns a snapshot of all stored pattern IDs.
func (b *BadgerDatabase) IDs() []PatternID {
	if err := b.checkOpen(); err != nil {
		return nil
	}

	var ids []PatternID
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixPattern}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) == 9 {
				ids = append(ids, PatternID(binary.BigEndian.Uint64(key[1:])))
			}
		}
		return nil
	})
	return ids
}

// Close flushes and closes the underlying Badger store.
func (b *BadgerDatabase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BadgerDatabase) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}
