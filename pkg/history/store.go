package history

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// RunSummary is what gets persisted once a sweep finishes.
type RunSummary struct {
	ID         string                            `json:"id"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	XMLSummary string                            `json:"xml_summary,omitempty"`
	Hosts      map[string]counters.HostCounters `json:"hosts"`
}

// Store is a bbolt-backed history of past runs.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the history database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "history.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists summary under its run ID, generating a fresh one when
// summary.ID is empty, and returns the ID used.
func (s *Store) Save(summary RunSummary) (string, error) {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.Put([]byte(summary.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to save run summary: %w", err)
	}

	return summary.ID, nil
}

// Recent returns the last n run summaries, most recent first.
func (s *Store) Recent(n int) ([]RunSummary, error) {
	var all []RunSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(_, v []byte) error {
			var summary RunSummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return err
			}
			all = append(all, summary)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}
