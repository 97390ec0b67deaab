package main

import (
	"time"
)

// Txn is one normalized transaction row inside a file's progress. Index is the
// dense 0-based position within the file and stays stable across edits; only a
// whole-file reset renumbers rows.
type Txn struct {
	Index         int
	Date          time.Time
	Amount        float64
	Desc          string
	Category      string // empty means uncategorized; otherwise a registry label
	Source        map[string]string
	CategorizedAt time.Time
}

// FileProgress is the unit of durability: all rows for one uploaded file plus
// their categorization state.
type FileProgress struct {
	Name         string
	Rows         []Txn
	CreatedAt    time.Time
	LastModified time.Time
}

// HistoricalExample is a read projection of an already-categorized row, used as
// in-context guidance for the classifier and the suggestion prompt.
type HistoricalExample struct {
	Desc     string
	Category string
}

// ValidationReport is the structural verdict for one uploaded file. It never
// mutates its input; fatal rows are excluded from Accepted but still reported.
type ValidationReport struct {
	Valid    bool
	Errors   []string
	RowCount int
	Accepted []Txn
}
