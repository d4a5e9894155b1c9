// Package trace persists recorded location traces in a bbolt database.
// Each trace is a bucket of JSON samples keyed by a big-endian sequence
// number, so iteration order is recording order.
package trace

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	bolt "go.etcd.io/bbolt"
)

// DefaultTrace is the trace name used when none is given.
const DefaultTrace = "default"

// Store is a trace database.
type Store struct {
	db     *bolt.DB
	path   string
	logger *logx.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	logger.Debug("trace store opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds samples to the end of the named trace.
func (s *Store) Append(name string, samples ...location.Sample) error {
	if name == "" {
		name = DefaultTrace
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		for _, sample := range samples {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			data, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("failed to marshal sample: %w", err)
			}
			if err := bucket.Put(seqKey(seq), data); err != nil {
				return fmt.Errorf("failed to store sample: %w", err)
			}
		}
		return nil
	})
}

// Samples returns the named trace in recording order. A missing trace
// yields no samples and no error.
func (s *Store) Samples(name string) ([]location.Sample, error) {
	if name == "" {
		name = DefaultTrace
	}
	var samples []location.Sample
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var sample location.Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("failed to unmarshal sample %d: %w", binary.BigEndian.Uint64(k), err)
			}
			samples = append(samples, sample)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Traces lists the stored trace names.
func (s *Store) Traces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named trace.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete trace %s: %w", name, err)
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
