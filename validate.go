package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date formats accepted for row dates, tried in order; first successful parse
// wins.
var dateFormats = []string{
	"2006-01-02", // ISO
	"01/02/2006", // US
	"02-Jan-2006",
}

func parseRowDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parseRowAmount normalizes a raw amount cell: currency symbols and thousands
// separators stripped, surrounding parentheses read as negative.
func parseRowAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ',', ' ', ' ':
			return -1
		}
		return r
	}, s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

// collapseAmount produces the single signed amount for a row. A plain amount
// column wins; otherwise separate debit/credit columns collapse
// deterministically: debit negative, credit positive, unless the cell already
// carries a sign.
func collapseAmount(row rawRow) (float64, bool) {
	if strings.TrimSpace(row.Amount) != "" {
		return parseRowAmount(row.Amount)
	}
	hasDebit := strings.TrimSpace(row.Debit) != ""
	hasCredit := strings.TrimSpace(row.Credit) != ""
	if hasDebit {
		f, ok := parseRowAmount(row.Debit)
		if !ok {
			return 0, false
		}
		if f > 0 {
			f = -f
		}
		if f != 0 || !hasCredit {
			return f, true
		}
	}
	if hasCredit {
		return parseRowAmount(row.Credit)
	}
	return 0, false
}

// validate applies the full rule set to raw file content and returns a
// structural report. It never panics or returns an error: every failure,
// header-level or per-row, surfaces as an entry in Errors. Accepted rows are
// reindexed densely from 0, preserving original relative order.
func validate(raw []byte, hint formatHint) *ValidationReport {
	report := &ValidationReport{}

	rows, err := parseRows(raw, hint)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	if len(rows) == 0 {
		report.Errors = append(report.Errors, "file has no data rows")
		return report
	}

	var numeric, nonNumeric int
	for _, row := range rows {
		if row.Blank {
			report.Errors = append(report.Errors,
				fmt.Sprintf("Row %d: Blank row skipped", row.Num))
			continue
		}
		report.RowCount++

		date, dateOK := parseRowDate(row.Date)
		amount, amountOK := collapseAmount(row)
		desc := strings.TrimSpace(row.Desc)

		if cell := strings.TrimSpace(row.Amount); cell != "" {
			if _, ok := parseRowAmount(cell); ok {
				numeric++
			} else {
				nonNumeric++
			}
		}

		fatal := false
		if !dateOK {
			report.Errors = append(report.Errors,
				fmt.Sprintf("Row %d: Invalid date format", row.Num))
			fatal = true
		}
		if !amountOK {
			report.Errors = append(report.Errors,
				fmt.Sprintf("Row %d: Invalid amount", row.Num))
			fatal = true
		}
		if desc == "" {
			report.Errors = append(report.Errors,
				fmt.Sprintf("Row %d: Missing description", row.Num))
			fatal = true
		}
		if fatal {
			continue
		}

		report.Accepted = append(report.Accepted, Txn{
			Index:  len(report.Accepted),
			Date:   date,
			Amount: amount,
			Desc:   desc,
			Source: row.Source,
		})
	}

	if numeric > 0 && nonNumeric > 0 {
		report.Errors = append(report.Errors,
			"Warning: amount column mixes numeric and non-numeric values")
	}

	report.Valid = len(report.Accepted) > 0
	return report
}
