// Package inputs loads keyword and place lists for a harvest run.
package inputs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoValues reports an input file without any usable rows.
var ErrNoValues = errors.New("no values")

// Fallbacks used when an input file cannot be read or is empty.
const (
	FallbackKeyword  = "Real Estate"
	FallbackPlace    = "CA"
	FallbackTimezone = "PST"
)

var timezones = map[string]string{
	"pst.csv": "PST",
	"est.csv": "EST",
	"cst.csv": "CST",
	"mst.csv": "MST",
}

// PlacesFile turns a CLI argument such as "est" into a file name ("est.csv").
func PlacesFile(arg string) string {
	if arg == "" {
		return "pst.csv"
	}
	if !strings.HasSuffix(strings.ToLower(arg), ".csv") {
		return arg + ".csv"
	}
	return arg
}

// TimezoneFor derives the timezone label from a places file name.
func TimezoneFor(path string) string {
	if tz, ok := timezones[strings.ToLower(filepath.Base(path))]; ok {
		return tz
	}
	return FallbackTimezone
}

// ReadColumn returns the trimmed first column of every non-blank row.
func ReadColumn(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var out []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read csv: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, v)
		}
	}
}

// ReadFile reads the first column of the CSV at path.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	values, err := ReadColumn(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

// Keywords reads the keyword list, falling back to FallbackKeyword when the
// file is unreadable or empty. The returned error reports why the fallback was used.
func Keywords(path string) ([]string, error) {
	return withFallback(path, FallbackKeyword)
}

// Places reads the place list, falling back to FallbackPlace.
func Places(path string) ([]string, error) {
	return withFallback(path, FallbackPlace)
}

func withFallback(path, fallback string) ([]string, error) {
	values, err := ReadFile(path)
	if err != nil {
		return []string{fallback}, err
	}
	if len(values) == 0 {
		return []string{fallback}, fmt.Errorf("%s: %w", path, ErrNoValues)
	}
	return values, nil
}
