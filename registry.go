package main

import (
	"sort"
	"strings"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// categoryRegistry is the closed set of known category labels. Labels are
// unique case-insensitively; the display form given at ConfirmAdd time is
// preserved. The registry only grows by explicit confirmed addition and never
// auto-shrinks.
type categoryRegistry struct {
	db *bolt.DB
}

func newCategoryRegistry(db *bolt.DB) *categoryRegistry {
	return &categoryRegistry{db: db}
}

// Broadly useful starting taxonomy, written on first open so manual review has
// shortcut targets before the user adds their own labels.
var defaultCategories = []string{
	"Food", "Groceries", "Home", "Utilities", "Transport", "Travel",
	"Shopping", "Entertainment", "Health", "Income", "Other",
}

// Propose normalizes a candidate label without mutating the registry: trimmed,
// inner whitespace collapsed. An empty result is an error.
func (r *categoryRegistry) Propose(label string) (string, error) {
	norm := strings.Join(strings.Fields(strings.TrimSpace(label)), " ")
	if norm == "" {
		return "", errors.New("category label is empty")
	}
	return norm, nil
}

func labelKey(display string) []byte {
	return []byte(strings.ToLower(display))
}

// ConfirmAdd adds a proposed label, or fails with ErrAlreadyExists.
func (r *categoryRegistry) ConfirmAdd(label string) error {
	display, err := r.Propose(label)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(categoriesBucket)
		key := labelKey(display)
		if b.Get(key) != nil {
			return errors.Wrapf(ErrAlreadyExists, "category %q", display)
		}
		return b.Put(key, []byte(display))
	})
}

// List returns all display labels, sorted.
func (r *categoryRegistry) List() ([]string, error) {
	var labels []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(categoriesBucket).ForEach(func(_, v []byte) error {
			labels = append(labels, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(labels)
	return labels, nil
}

// Resolve looks a label up case-insensitively and returns its canonical
// display form.
func (r *categoryRegistry) Resolve(label string) (string, bool, error) {
	display, err := r.Propose(label)
	if err != nil {
		return "", false, err
	}
	var canonical string
	err = r.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(categoriesBucket).Get(labelKey(display)); v != nil {
			canonical = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return canonical, canonical != "", nil
}

// SeedDefaults populates the starting taxonomy if the registry is empty.
func (r *categoryRegistry) SeedDefaults() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(categoriesBucket)
		if k, _ := b.Cursor().First(); k != nil {
			return nil
		}
		for _, c := range defaultCategories {
			if err := b.Put(labelKey(c), []byte(c)); err != nil {
				return err
			}
		}
		return nil
	})
}
