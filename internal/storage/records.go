package storage

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hakim/seceval/internal/models"
	"go.etcd.io/bbolt"
)

func putJSON(tx *bbolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

// getJSON decodes the record at key into v. It reports false when absent.
func getJSON(tx *bbolt.Tx, bucket, key string, v any) (bool, error) {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// listJSON decodes every record of a bucket in key order.
func listJSON[T any](s *Store, bucket string) ([]T, error) {
	var out []T
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(_, data []byte) error {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

func (s *Store) put(bucket, key string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx, bucket, key, v)
	})
}

func (s *Store) delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// SaveRule persists a rule under its id. A rule saved for the first time is
// appended to the stored insertion order.
func (s *Store) SaveRule(rule models.Rule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx, bucketRules, rule.ID, rule); err != nil {
			return err
		}
		var order []string
		if _, err := getJSON(tx, bucketRulesIndex, rulesOrderKey, &order); err != nil {
			return fmt.Errorf("reading rules index: %w", err)
		}
		if slices.Contains(order, rule.ID) {
			return nil
		}
		return putJSON(tx, bucketRulesIndex, rulesOrderKey, append(order, rule.ID))
	})
}

// DeleteRule removes a stored rule. Deleting a missing rule is a no-op.
func (s *Store) DeleteRule(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketRules)).Delete([]byte(id)); err != nil {
			return err
		}
		var order []string
		if _, err := getJSON(tx, bucketRulesIndex, rulesOrderKey, &order); err != nil {
			return fmt.Errorf("reading rules index: %w", err)
		}
		i := slices.Index(order, id)
		if i < 0 {
			return nil
		}
		return putJSON(tx, bucketRulesIndex, rulesOrderKey, slices.Delete(order, i, i+1))
	})
}

// LoadRules returns every stored rule in the order it was first saved.
// Rules missing from the index follow in id order.
func (s *Store) LoadRules() ([]models.Rule, error) {
	var rules []models.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		var order []string
		if _, err := getJSON(tx, bucketRulesIndex, rulesOrderKey, &order); err != nil {
			return fmt.Errorf("reading rules index: %w", err)
		}

		bucket := tx.Bucket([]byte(bucketRules))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			data := bucket.Get([]byte(id))
			if data == nil || seen[id] {
				continue
			}
			var r models.Rule
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			seen[id] = true
			rules = append(rules, r)
		}

		return bucket.ForEach(func(k, data []byte) error {
			if seen[string(k)] {
				return nil
			}
			var r models.Rule
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			rules = append(rules, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveRuleSet persists a rule set under its id
func (s *Store) SaveRuleSet(rs models.RuleSet) error {
	return s.put(bucketRuleSets, rs.ID, rs)
}

// DeleteRuleSet removes a stored rule set
func (s *Store) DeleteRuleSet(id string) error {
	return s.delete(bucketRuleSets, id)
}

// LoadRuleSets returns every stored rule set ordered by id
func (s *Store) LoadRuleSets() ([]models.RuleSet, error) {
	return listJSON[models.RuleSet](s, bucketRuleSets)
}

// SaveSettings writes the settings document
func (s *Store) SaveSettings(settings models.Settings) error {
	return s.put(bucketSettings, settingsKey, settings)
}

// LoadSettings reads the settings document. found is false when none has
// been saved yet.
func (s *Store) LoadSettings() (settings models.Settings, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		found, err = getJSON(tx, bucketSettings, settingsKey, &settings)
		return err
	})
	return settings, found, err
}
