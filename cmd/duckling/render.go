package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/semihalev/duckling"
)

var (
	headerColor = color.New(color.Bold)
	nullColor   = color.New(color.Faint)
	footerColor = color.New(color.Faint)
)

const nullCell = "NULL"

// printResult prints res as an aligned table, one chunk at a time. Column
// widths are taken from the header and the first chunk; wider cells in later
// chunks push their row out of line rather than holding rows back.
func printResult(w io.Writer, res *duckling.QueryResult) (int, error) {
	names, err := res.ColumnNames()
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		_, err := res.FetchAll()
		return 0, err
	}

	chunk, err := res.FetchChunk()
	if err != nil {
		return 0, err
	}

	widths := make([]int, len(names))
	for i, name := range names {
		widths[i] = utf8.RuneCountInString(name)
	}
	for _, row := range chunk {
		for i, v := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cellText(v)))
		}
	}

	for i, name := range names {
		if i > 0 {
			fmt.Fprint(w, " | ")
		}
		headerColor.Fprint(w, pad(name, widths[i]))
	}
	fmt.Fprintln(w)
	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)

	total := 0
	for len(chunk) > 0 {
		for _, row := range chunk {
			for i, v := range row {
				if i > 0 {
					fmt.Fprint(w, " | ")
				}
				if v.IsNull() {
					nullColor.Fprint(w, pad(nullCell, widths[i]))
				} else {
					fmt.Fprint(w, pad(cellText(v), widths[i]))
				}
			}
			fmt.Fprintln(w)
		}
		total += len(chunk)

		if chunk, err = res.FetchChunk(); err != nil {
			return total, err
		}
	}

	if total == 1 {
		footerColor.Fprintln(w, "(1 row)")
	} else {
		footerColor.Fprintf(w, "(%d rows)\n", total)
	}
	return total, nil
}

func cellText(v duckling.Value) string {
	if v.IsNull() {
		return nullCell
	}
	return v.String()
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
