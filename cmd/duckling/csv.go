package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/semihalev/duckling"
)

// appendCSV loads CSV records from r into table through an Appender and
// returns the number of rows committed.
func appendCSV(conn *duckling.Connection, table string, r io.Reader, header bool, nullText string) (int, error) {
	app, err := conn.Appender(table)
	if err != nil {
		return 0, err
	}

	cols, err := app.Columns()
	if err != nil {
		app.Close()
		return 0, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(cols)
	reader.ReuseRecord = true

	n := 0
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			app.Discard()
			app.Close()
			return 0, fmt.Errorf("reading CSV: %w", err)
		}
		line++
		if header && line == 1 {
			continue
		}

		values := make([]any, len(record))
		for i, field := range record {
			if values[i], err = csvValue(field, cols[i].Type, nullText); err != nil {
				app.Discard()
				app.Close()
				return 0, fmt.Errorf("line %d column %s: %w", line, cols[i].Name, err)
			}
		}
		if err := app.AddRow(values...); err != nil {
			app.Discard()
			app.Close()
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}

	if err := app.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

// csvValue converts a CSV field into a Go value that fits a column of the
// given type. Types it does not know are passed on as text.
func csvValue(field, typeName, nullText string) (any, error) {
	if field == nullText {
		return nil, nil
	}

	t := strings.ToUpper(typeName)
	switch {
	case strings.HasSuffix(t, "]"):
		return nil, fmt.Errorf("list columns cannot be loaded from CSV")
	case t == "BOOLEAN":
		return strconv.ParseBool(field)
	case t == "TINYINT" || t == "SMALLINT" || t == "INTEGER" || t == "BIGINT":
		return strconv.ParseInt(field, 10, 64)
	case t == "UTINYINT" || t == "USMALLINT" || t == "UINTEGER" || t == "UBIGINT":
		return strconv.ParseUint(field, 10, 64)
	case t == "HUGEINT" || t == "UHUGEINT":
		return duckling.ParseWide(field)
	case t == "FLOAT" || t == "DOUBLE":
		return strconv.ParseFloat(field, 64)
	case t == "UUID":
		return uuid.Parse(field)
	case t == "BLOB":
		return []byte(field), nil
	case t == "DATE" || t == "TIME" || strings.HasPrefix(t, "TIMESTAMP"):
		for _, layout := range csvTimeLayouts {
			if ts, err := time.Parse(layout, field); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as %s", field, typeName)
	default:
		return field, nil
	}
}
