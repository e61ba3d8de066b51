package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gyaneshwarpardhi/chronicle/internal/event"
	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
)

const documentsBucket = "documents"

// Store keeps the event log and the documents in one BoltDB file. Events live
// in the Events bucket keyed by a big-endian sequence, so an append writes a
// single key and iteration order is append order.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the BoltDB file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", storage.ErrStoreUnavailable)
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open storage db: %w", storage.ErrStoreUnavailable, err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores evt under the next sequence of the Events bucket.
func (s *Store) Append(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return storage.ErrStoreUnavailable
	}
	if err := storage.CheckPayload(evt); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("%w: marshal event %s: %w", storage.ErrEncoding, evt.ID, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.EventsCollection))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", storage.EventsCollection)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next event sequence: %w", err)
		}
		return bucket.Put(sequenceKey(seq), payload)
	})
	return unavailable(err)
}

// All decodes the Events bucket in sequence order.
func (s *Store) All(ctx context.Context) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, storage.ErrStoreUnavailable
	}

	corrupt := &storage.CorruptError{Collection: storage.EventsCollection}
	events := make([]event.Event, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.EventsCollection))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", storage.EventsCollection)
		}
		return bucket.ForEach(func(k, v []byte) error {
			var evt event.Event
			if err := json.Unmarshal(v, &evt); err != nil {
				corrupt.Skip(sequenceString(k), err)
				return nil
			}
			events = append(events, evt)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return events, corrupt.OrNil()
}

// Load returns a copy of the document stored under key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, storage.ErrStoreUnavailable
	}

	var doc []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", documentsBucket)
		}
		if v := bucket.Get([]byte(key)); v != nil {
			doc = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return doc, nil
}

// Update runs fn inside a write transaction; bbolt admits one writer at a time.
func (s *Store) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return storage.ErrStoreUnavailable
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentsBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", documentsBucket)
		}
		var current []byte
		if v := bucket.Get([]byte(key)); v != nil {
			current = append([]byte(nil), v...)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return bucket.Delete([]byte(key))
		}
		return bucket.Put([]byte(key), next)
	})
	return unavailable(err)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{storage.EventsCollection, documentsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func unavailable(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	return err
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func sequenceString(key []byte) string {
	if len(key) != 8 {
		return fmt.Sprintf("%x", key)
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(key), 10)
}
