package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCaptures = []byte("captures") // time-ordered key -> capture
	bucketIndex    = []byte("index")    // capture id -> time-ordered key
)

// Capture is a message stored instead of being delivered
type Capture struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"messageId"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	Data           []byte    `json:"data,omitempty"`
	SimulatedError string    `json:"simulatedError,omitempty"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// ListFilter contains filters for listing captures
type ListFilter struct {
	To     string
	Limit  int
	Offset int
}

// Stats returns sandbox statistics
type Stats struct {
	Total     int64     `json:"total"`
	Failed    int64     `json:"failed"`
	OldestAt  time.Time `json:"oldestAt,omitempty"`
	NewestAt  time.Time `json:"newestAt,omitempty"`
	TotalSize int64     `json:"totalSize"`
}

// Storage keeps captured messages in a bbolt file
type Storage struct {
	db *bolt.DB
}

// Open opens or creates the capture store at path
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCaptures, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sandbox buckets: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Save stores a capture
func (s *Storage) Save(_ context.Context, c *Capture) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal capture: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		key := makeIndexKey(c.CapturedAt, c.ID)
		if err := tx.Bucket(bucketCaptures).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(c.ID), key)
	})
}

// Get retrieves a capture by ID, or nil when absent
func (s *Storage) Get(_ context.Context, id string) (*Capture, error) {
	var c *Capture

	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(id))
		if key == nil {
			return nil
		}
		v := tx.Bucket(bucketCaptures).Get(key)
		if v == nil {
			return nil
		}
		c = &Capture{}
		return json.Unmarshal(v, c)
	})

	return c, err
}

// List returns captures newest first without their raw data
func (s *Storage) List(_ context.Context, filter ListFilter) ([]*Capture, error) {
	captures := []*Capture{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCaptures).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}

			if filter.To != "" && !contains(capture.To, filter.To) {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			capture.Data = nil
			captures = append(captures, &capture)

			if filter.Limit > 0 && len(captures) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return captures, err
}

// Delete removes a capture by ID
func (s *Storage) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketCaptures).Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}

// Clear removes captures older than olderThan, or all when it is zero
func (s *Storage) Clear(_ context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		captures := tx.Bucket(bucketCaptures)
		index := tx.Bucket(bucketIndex)

		var doomed []Capture
		var keys [][]byte
		c := captures.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}
			if olderThan > 0 && capture.CapturedAt.After(cutoff) {
				continue
			}
			doomed = append(doomed, capture)
			keys = append(keys, append([]byte(nil), k...))
		}

		for i, k := range keys {
			if err := captures.Delete(k); err != nil {
				return err
			}
			if err := index.Delete([]byte(doomed[i].ID)); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// Stats returns sandbox statistics
func (s *Storage) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCaptures).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}

			stats.Total++
			stats.TotalSize += int64(len(v))
			if capture.SimulatedError != "" {
				stats.Failed++
			}
			if stats.OldestAt.IsZero() || capture.CapturedAt.Before(stats.OldestAt) {
				stats.OldestAt = capture.CapturedAt
			}
			if capture.CapturedAt.After(stats.NewestAt) {
				stats.NewestAt = capture.CapturedAt
			}
		}
		return nil
	})

	return stats, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + id)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
