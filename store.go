package main

import (
	"bytes"
	"encoding/gob"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	filesBucket      = []byte("files")
	categoriesBucket = []byte("categories")
)

// progressStore persists one FileProgress per uploaded file name in bolt.
// Writes to a given file are serialized through a per-file mutex so a bulk
// apply and a single-row update can never interleave; reads go through bolt
// View snapshots and never block on writers of other files.
type progressStore struct {
	db  *bolt.DB
	reg *categoryRegistry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func openDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open boltdb at %v", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{filesBucket, categoriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "unable to create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newProgressStore(db *bolt.DB, reg *categoryRegistry) *progressStore {
	return &progressStore{
		db:    db,
		reg:   reg,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *progressStore) fileLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func encodeProgress(fp *FileProgress) ([]byte, error) {
	var val bytes.Buffer
	if err := gob.NewEncoder(&val).Encode(fp); err != nil {
		return nil, errors.Wrapf(err, "unable to encode progress for %v", fp.Name)
	}
	return val.Bytes(), nil
}

func decodeProgress(data []byte) (*FileProgress, error) {
	var fp FileProgress
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&fp); err != nil {
		return nil, errors.Wrap(err, "unable to decode progress")
	}
	return &fp, nil
}

// CreateOrReset stores a fresh FileProgress for name, replacing any prior
// rows. This is the only supported re-upload mode; merging prior
// categorizations is left to callers that diff snapshots themselves.
func (s *progressStore) CreateOrReset(name string, rows []Txn) (*FileProgress, error) {
	l := s.fileLock(name)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	fp := &FileProgress{
		Name:         name,
		Rows:         make([]Txn, len(rows)),
		CreatedAt:    now,
		LastModified: now,
	}
	copy(fp.Rows, rows)
	for i := range fp.Rows {
		fp.Rows[i].Index = i
	}

	val, err := encodeProgress(fp)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(name), val)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to store progress for %v", name)
	}
	return fp, nil
}

// Get returns a snapshot of the file's progress, or ErrNotFound.
func (s *progressStore) Get(name string) (*FileProgress, error) {
	var fp *FileProgress
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(filesBucket).Get([]byte(name))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "file %q", name)
		}
		var err error
		fp, err = decodeProgress(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fp, nil
}

// Exists reports whether progress for name is already stored.
func (s *progressStore) Exists(name string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(filesBucket).Get([]byte(name)) != nil
		return nil
	})
	return found, err
}

// checkLabel resolves a label against the registry, returning its canonical
// display form. Empty clears the category and is always allowed.
func (s *progressStore) checkLabel(label string) (string, error) {
	if strings.TrimSpace(label) == "" {
		return "", nil
	}
	canonical, ok, err := s.reg.Resolve(label)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &UnknownCategoryError{Label: label}
	}
	return canonical, nil
}

// UpdateRow sets one row's category. An out-of-range index or a label outside
// the registry fails without side effects.
func (s *progressStore) UpdateRow(name string, index int, category string) error {
	l := s.fileLock(name)
	l.Lock()
	defer l.Unlock()

	canonical, err := s.checkLabel(category)
	if err != nil {
		return err
	}
	fp, err := s.Get(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(fp.Rows) {
		return errors.Wrapf(ErrNotFound, "row index %d out of range for %q (%d rows)",
			index, name, len(fp.Rows))
	}

	now := time.Now()
	fp.Rows[index].Category = canonical
	fp.Rows[index].CategorizedAt = now
	fp.LastModified = now
	return s.put(fp)
}

// BulkResult reports the outcome for one index of an ApplyBulk call.
type BulkResult struct {
	Index int
	Err   error
}

// ApplyBulk applies category updates to many rows of one file. Every index and
// label is checked before any write; the valid subset is committed in a single
// bolt transaction so a partial failure never corrupts unrelated rows. Results
// come back in ascending index order.
func (s *progressStore) ApplyBulk(name string, updates map[int]string) ([]BulkResult, error) {
	l := s.fileLock(name)
	l.Lock()
	defer l.Unlock()

	fp, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(updates))
	for idx := range updates {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	results := make([]BulkResult, 0, len(indices))
	now := time.Now()
	var applied int
	for _, idx := range indices {
		res := BulkResult{Index: idx}
		if idx < 0 || idx >= len(fp.Rows) {
			res.Err = errors.Wrapf(ErrNotFound, "row index %d out of range", idx)
			results = append(results, res)
			continue
		}
		canonical, err := s.checkLabel(updates[idx])
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		fp.Rows[idx].Category = canonical
		fp.Rows[idx].CategorizedAt = now
		applied++
		results = append(results, res)
	}

	if applied > 0 {
		fp.LastModified = now
		if err := s.put(fp); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *progressStore) put(fp *FileProgress) error {
	val, err := encodeProgress(fp)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Put([]byte(fp.Name), val)
	})
	return errors.Wrapf(err, "unable to store progress for %v", fp.Name)
}

// ListFiles returns the names of all stored files, sorted.
func (s *progressStore) ListFiles() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// HistoricalExamples projects the most recently categorized rows across all
// files into (description, category) pairs, newest first, bounded by limit.
func (s *progressStore) HistoricalExamples(limit int) ([]HistoricalExample, error) {
	type stamped struct {
		ex HistoricalExample
		at time.Time
	}
	var all []stamped
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			fp, err := decodeProgress(v)
			if err != nil {
				return err
			}
			for _, row := range fp.Rows {
				if row.Category == "" {
					continue
				}
				all = append(all, stamped{
					ex: HistoricalExample{Desc: row.Desc, Category: row.Category},
					at: row.CategorizedAt,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.After(all[j].at) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]HistoricalExample, len(all))
	for i, s := range all {
		out[i] = s.ex
	}
	return out, nil
}
