// Package store persists the adopted session in BadgerDB so a restart can
// reuse a still-valid clearance instead of solving again.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/use-agent/lnfetch/session"
)

const (
	sessionKey         = "session:current"
	maxConflictRetries = 10

	// DefaultTTL bounds how long a persisted session is trusted.
	DefaultTTL = 24 * time.Hour
)

// BadgerStore implements session.Persister.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
	log *slog.Logger
}

// Open opens (or creates) the store under dir. ttl <= 0 uses DefaultTTL.
func Open(dir string, ttl time.Duration, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(newBadgerSlogAdapter(logger)).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", dir, err)
	}
	logger.Info("session store opened", "dir", dir, "ttl", ttl)
	return &BadgerStore{db: db, ttl: ttl, log: logger}, nil
}

// dbUpdate retries db.Update on transaction conflicts.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("badger transaction conflict, retrying", "attempt", i+1)
	}
	return fmt.Errorf("store: transaction conflict not resolved after %d retries", maxConflictRetries)
}

// SaveSession writes snap, replacing any previous session.
func (s *BadgerStore) SaveSession(snap session.Snapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(sessionKey), val).WithTTL(s.ttl))
	})
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

// ClearSession removes the persisted session. Clearing an empty store is
// not an error.
func (s *BadgerStore) ClearSession() error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKey))
	})
	if err != nil {
		return fmt.Errorf("store: clear session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session. ok is false when none is
// stored or it has expired.
func (s *BadgerStore) LoadSession() (session.Snapshot, bool, error) {
	var snap session.Snapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &snap); err != nil {
				s.log.Warn("discarding unreadable persisted session", "error", err)
				return nil
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("store: load session: %w", err)
	}
	return snap, found, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
