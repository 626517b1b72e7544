package storage

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hakim/seceval/internal/models"
	"go.etcd.io/bbolt"
)

// SaveHistory persists a history record and the ledger order (newest first)
// in a single transaction.
func (s *Store) SaveHistory(rec models.HistoryRecord, order []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx, bucketHistory, rec.ID, rec); err != nil {
			return err
		}
		return putJSON(tx, bucketHistoryIndex, historyOrderKey, order)
	})
}

// DeleteHistory removes records and rewrites the ledger order.
func (s *Store) DeleteHistory(ids []string, order []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		history := tx.Bucket([]byte(bucketHistory))
		for _, id := range ids {
			if err := history.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return putJSON(tx, bucketHistoryIndex, historyOrderKey, order)
	})
}

// LoadHistory returns the stored records in ledger order. Index entries whose
// record is missing are dropped; records missing from the index are appended
// oldest last by start time.
func (s *Store) LoadHistory() ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		var order []string
		if _, err := getJSON(tx, bucketHistoryIndex, historyOrderKey, &order); err != nil {
			return fmt.Errorf("reading history index: %w", err)
		}

		history := tx.Bucket([]byte(bucketHistory))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			data := history.Get([]byte(id))
			if data == nil || seen[id] {
				continue
			}
			var rec models.HistoryRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			seen[id] = true
			records = append(records, rec)
		}

		var orphans []models.HistoryRecord
		err := history.ForEach(func(k, data []byte) error {
			if seen[string(k)] {
				return nil
			}
			var rec models.HistoryRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			orphans = append(orphans, rec)
			return nil
		})
		if err != nil {
			return err
		}
		slices.SortFunc(orphans, func(a, b models.HistoryRecord) int {
			return b.StartedAt.Compare(a.StartedAt)
		})
		records = append(records, orphans...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveResult persists a full scan result keyed by scan id
func (s *Store) SaveResult(res *models.ScanResult) error {
	return s.put(bucketResults, res.ScanID, res)
}

// GetResult retrieves a scan result by id
func (s *Store) GetResult(id string) (*models.ScanResult, error) {
	var res *models.ScanResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		var r models.ScanResult
		found, err := getJSON(tx, bucketResults, id, &r)
		if err != nil || !found {
			return err
		}
		res = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("storage: result %q: %w", id, models.ErrNotFound)
	}
	return res, nil
}

// DeleteResult removes a stored scan result
func (s *Store) DeleteResult(id string) error {
	return s.delete(bucketResults, id)
}
