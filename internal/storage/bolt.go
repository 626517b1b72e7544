package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketRules        = "rules"
	bucketRulesIndex   = "rules_index"
	bucketRuleSets     = "rule_sets"
	bucketHistory      = "history"
	bucketHistoryIndex = "history_index"
	bucketSettings     = "settings"
	bucketResults      = "results"

	historyOrderKey = "order"
	rulesOrderKey   = "order"
	settingsKey     = "settings"
)

var allBuckets = []string{
	bucketRules,
	bucketRulesIndex,
	bucketRuleSets,
	bucketHistory,
	bucketHistoryIndex,
	bucketSettings,
	bucketResults,
}

// Store wraps a bbolt database holding rules, rule sets, history, settings
// and scan results. Every record is JSON under a stable string key.
type Store struct {
	db   *bbolt.DB
	path string
}

// NewStore opens a bbolt database at the given path and initializes required buckets
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: creating buckets: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the bbolt database
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats describes the database file.
type Stats struct {
	Path      string         `json:"path"`
	SizeBytes int64          `json:"size_bytes"`
	Records   map[string]int `json:"records"`
}

// Stats reports the database size and the record count per bucket.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Path: s.path, Records: make(map[string]int, len(allBuckets))}
	err := s.db.View(func(tx *bbolt.Tx) error {
		st.SizeBytes = tx.Size()
		for _, name := range allBuckets {
			st.Records[name] = tx.Bucket([]byte(name)).Stats().KeyN
		}
		return nil
	})
	return st, err
}
