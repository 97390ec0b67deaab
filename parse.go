package main

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

type formatHint int

const (
	hintAuto formatHint = iota
	hintCSV
	hintJSON
)

func parseHint(s string) (formatHint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return hintAuto, nil
	case "csv":
		return hintCSV, nil
	case "json":
		return hintJSON, nil
	}
	return hintAuto, errors.Errorf("unknown format hint: %q", s)
}

// rawRow is one data row before validation. Date, amount, debit, credit and
// desc hold the raw cell text of the resolved columns; Source keeps everything
// the resolver did not claim, for traceability.
type rawRow struct {
	Num    int // 1-based position among data rows, blank rows included
	Date   string
	Amount string
	Debit  string
	Credit string
	Desc   string
	Source map[string]string
	Blank  bool
}

// Canonical semantic fields in resolution precedence order. Bank exports name
// these columns every which way, so resolution goes through a synonym table
// instead of exact string match.
var canonicalFields = []string{"date", "amount", "description", "debit", "credit"}

var headerSynonyms = map[string][]string{
	"date": {
		"date", "transaction date", "posted date", "posting date",
		"value date", "booking date", "trans date",
	},
	"amount": {
		"amount", "transaction amount", "value", "amt", "sum",
	},
	"description": {
		"description", "desc", "memo", "payee", "narrative", "details",
		"merchant", "name", "reference", "transaction details",
	},
	"debit": {
		"debit", "paid out", "money out", "withdrawal", "withdrawals", "outflow",
	},
	"credit": {
		"credit", "paid in", "money in", "deposit", "deposits", "inflow",
	},
}

// maxHeaderDistance is the levenshtein budget for the fuzzy pass, enough for
// "ammount" or "descripton" without letting "date" claim "rate".
const maxHeaderDistance = 2

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// resolveHeaders maps raw header names to canonical fields. For each canonical
// field, in fixed precedence order: an exact synonym match wins first, then a
// fuzzy match within maxHeaderDistance. A header claimed by one field is not
// considered again for later fields, so resolution is deterministic.
func resolveHeaders(headers []string) map[string]int {
	claimed := make(map[int]bool)
	resolved := make(map[string]int)

	match := func(field string, fuzzy bool) int {
		for i, h := range headers {
			if claimed[i] {
				continue
			}
			norm := normalizeHeader(h)
			if norm == "" {
				continue
			}
			for _, syn := range headerSynonyms[field] {
				if !fuzzy {
					if norm == syn {
						return i
					}
					continue
				}
				if len(norm) >= 4 && levenshtein.ComputeDistance(norm, syn) <= maxHeaderDistance {
					return i
				}
			}
		}
		return -1
	}

	for _, field := range canonicalFields {
		idx := match(field, false)
		if idx < 0 {
			idx = match(field, true)
		}
		if idx >= 0 {
			resolved[field] = idx
			claimed[idx] = true
		}
	}
	return resolved
}

// checkRequired returns a header-level error unless a date column, a
// description column, and some amount-like column (amount, or debit/credit)
// all resolved.
func checkRequired(resolved map[string]int) error {
	if _, ok := resolved["date"]; !ok {
		return errors.New("unable to resolve a date column")
	}
	if _, ok := resolved["description"]; !ok {
		return errors.New("unable to resolve a description column")
	}
	_, hasAmount := resolved["amount"]
	_, hasDebit := resolved["debit"]
	_, hasCredit := resolved["credit"]
	if !hasAmount && !hasDebit && !hasCredit {
		return errors.New("unable to resolve an amount column")
	}
	return nil
}

func sniffFormat(raw []byte) formatHint {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return hintJSON
	}
	return hintCSV
}

// parseRows turns raw file bytes into rawRows. Errors returned here are
// header-level fatals (empty file, unresolvable required columns, bad JSON
// shape); per-row problems are left for the validator to report.
func parseRows(raw []byte, hint formatHint) ([]rawRow, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("file is empty")
	}
	if hint == hintAuto {
		hint = sniffFormat(raw)
	}
	if hint == hintJSON {
		return parseJSONRows(raw)
	}
	return parseCSVRows(raw)
}

func parseCSVRows(raw []byte) ([]rawRow, error) {
	r := csv.NewReader(newEscapeReader(bytes.NewReader(raw)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read header row")
	}
	resolved := resolveHeaders(header)
	if err := checkRequired(resolved); err != nil {
		return nil, err
	}

	pick := func(cols []string, field string) string {
		idx, ok := resolved[field]
		if !ok || idx >= len(cols) {
			return ""
		}
		return cols[idx]
	}
	claimed := make(map[int]bool)
	for _, idx := range resolved {
		claimed[idx] = true
	}

	var rows []rawRow
	num := 0
	for {
		cols, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A row the csv reader cannot recover from ends the scan; the
			// validator reports what was read up to here.
			break
		}
		num++
		row := rawRow{
			Num:    num,
			Date:   pick(cols, "date"),
			Amount: pick(cols, "amount"),
			Debit:  pick(cols, "debit"),
			Credit: pick(cols, "credit"),
			Desc:   pick(cols, "description"),
			Source: make(map[string]string),
		}
		blank := true
		for _, c := range cols {
			if strings.TrimSpace(c) != "" {
				blank = false
				break
			}
		}
		row.Blank = blank
		for i, c := range cols {
			if claimed[i] || i >= len(header) {
				continue
			}
			if name := strings.TrimSpace(header[i]); name != "" {
				row.Source[name] = c
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseJSONRows handles exports shaped as a top-level array of objects. The
// first object's keys act as the header; key resolution reuses the same
// synonym table as CSV.
func parseJSONRows(raw []byte) ([]rawRow, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, errors.New("json input must be a top-level array of objects")
	}
	items := parsed.Array()
	if len(items) == 0 {
		return nil, nil
	}

	var keys []string
	items[0].ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	resolved := resolveHeaders(keys)
	if err := checkRequired(resolved); err != nil {
		return nil, err
	}
	fieldKey := make(map[string]string)
	for field, idx := range resolved {
		fieldKey[field] = keys[idx]
	}
	claimedKey := make(map[string]bool)
	for _, k := range fieldKey {
		claimedKey[k] = true
	}

	var rows []rawRow
	for i, item := range items {
		if !item.IsObject() {
			rows = append(rows, rawRow{Num: i + 1, Blank: true, Source: map[string]string{}})
			continue
		}
		m := item.Map()
		get := func(field string) string {
			k, ok := fieldKey[field]
			if !ok {
				return ""
			}
			return m[k].String()
		}
		row := rawRow{
			Num:    i + 1,
			Date:   get("date"),
			Amount: get("amount"),
			Debit:  get("debit"),
			Credit: get("credit"),
			Desc:   get("description"),
			Source: make(map[string]string),
		}
		blank := true
		for k, v := range m {
			if strings.TrimSpace(v.String()) != "" {
				blank = false
			}
			if !claimedKey[k] {
				row.Source[k] = v.String()
			}
		}
		row.Blank = blank
		rows = append(rows, row)
	}
	return rows, nil
}
