// Package store provides the Pebble-backed persistence for the ledger
// key-spaces and the notification journal. Values are JSON so the on-disk
// records stay inspectable; every write is synced.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

const journalPrefix = "journal/"

// Store is a Pebble LSM-tree backed key-value store.
type Store struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
	seq    atomic.Uint64
}

// Open opens (or creates) the store at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	opts := &pebble.Options{
		Logger: &pebbleLogger{logger},
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	s := &Store{db: db, path: path, logger: logger}
	if err := s.recoverJournalSeq(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Ledger store opened", zap.String("path", path))
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores v under key, JSON-encoded.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

// Get loads the value under key into out. Returns false if the key is absent.
func (s *Store) Get(key string, out any) (bool, error) {
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}

// Apply writes all entries in one synced batch. Either every key lands or
// none does; multi-key state transitions go through here.
func (s *Store) Apply(kvs map[string]any) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for key, v := range kvs {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		if err := batch.Set([]byte(key), data, nil); err != nil {
			return fmt.Errorf("batch set %s: %w", key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}
	return nil
}

// Scan visits every key with the given prefix in key order.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		if err := fn(string(iter.Key()), v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// JournalRecord is one append-only notification record.
type JournalRecord struct {
	Seq     uint64          `json:"seq"`
	Name    string          `json:"name"`
	At      int64           `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Append writes the next journal record. Satisfies notify.Appender.
func (s *Store) Append(name string, payload []byte) error {
	seq := s.seq.Add(1)
	rec := JournalRecord{
		Seq:     seq,
		Name:    name,
		At:      time.Now().Unix(),
		Payload: payload,
	}
	return s.Put(journalKey(seq), rec)
}

// Journal visits every journal record in sequence order.
func (s *Store) Journal(fn func(rec JournalRecord) error) error {
	return s.Scan(journalPrefix, func(_ string, value []byte) error {
		var rec JournalRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("journal record: %w", err)
		}
		return fn(rec)
	})
}

// recoverJournalSeq resumes the sequence counter after the last persisted
// record so restarts never reuse a sequence number.
func (s *Store) recoverJournalSeq() error {
	var last uint64
	err := s.Scan(journalPrefix, func(key string, _ []byte) error {
		var rec JournalRecord
		found, err := s.Get(key, &rec)
		if err != nil {
			return err
		}
		if found && rec.Seq > last {
			last = rec.Seq
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.seq.Store(last)
	return nil
}

func journalKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", journalPrefix, seq)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	b := []byte(strings.Clone(prefix))
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
