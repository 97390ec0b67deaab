package main

import (
	"encoding/csv"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeReader(t *testing.T) {
	read := func(in string) [][]string {
		r := csv.NewReader(newEscapeReader(strings.NewReader(in)))
		r.FieldsPerRecord = -1
		var out [][]string
		for {
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			out = append(out, rec)
		}
		return out
	}

	t.Run("backslashQuote", func(t *testing.T) {
		recs := read("a,\"Joe\\\"s Diner\",c\n")
		require.Equal(t, [][]string{{"a", `Joe"s Diner`, "c"}}, recs)
	})

	t.Run("backslashNewline", func(t *testing.T) {
		recs := read("a,\"line\\nbreak\",c\n")
		require.Equal(t, [][]string{{"a", "line\nbreak", "c"}}, recs)
	})

	t.Run("plainRFC4180Untouched", func(t *testing.T) {
		recs := read("a,\"he said \"\"hi\"\"\",c\n")
		require.Equal(t, [][]string{{"a", `he said "hi"`, "c"}}, recs)
	})

	t.Run("backslashBeforeOtherCharKept", func(t *testing.T) {
		recs := read("a,\"C:\\temp\",c\n")
		require.Equal(t, [][]string{{"a", `C:temp`, "c"}}, recs)
	})
}
