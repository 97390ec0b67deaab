package main

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"
)

// Row layout for exported files. Override with a template string that uses the
// same fields.
const defaultExportTemplate = `{{.Date.Format "2006-01-02"}},{{printf "%.2f" .Amount}},{{csvQuote .Desc}},{{csvQuote .Category}}
`

type exportRow struct {
	Date     time.Time
	Amount   float64
	Desc     string
	Category string
}

func newExportTemplate(text string) (*template.Template, error) {
	funcs := template.FuncMap{
		"csvQuote": func(s string) string {
			if strings.ContainsAny(s, ",\"\n") {
				return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
			}
			return s
		},
	}
	return template.New("export").Funcs(funcs).Parse(text)
}

// exportProgress writes every row of a snapshot through the template, header
// first.
func exportProgress(w io.Writer, fp *FileProgress, tmpl *template.Template) error {
	if _, err := fmt.Fprintf(w, "Date,Amount,Description,Category\n"); err != nil {
		return err
	}
	for _, row := range fp.Rows {
		err := tmpl.Execute(w, exportRow{
			Date:     row.Date,
			Amount:   row.Amount,
			Desc:     row.Desc,
			Category: row.Category,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
