// Package output encodes listing records as CSV and names the files they
// are written to.
package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

// Format is a CSV layout.
type Format struct {
	Header []string
	Row    func(listing.Record) []string
	// QuoteAll wraps every field in quotes, not only those that need it.
	QuoteAll bool
}

// LeadFormat is the layout used by the browser pipeline.
var LeadFormat = Format{
	Header: []string{"Name", "Phone", "Address", "Website", "Category", "Keyword", "Location", "TimeZone", "IdStatus"},
	Row: func(r listing.Record) []string {
		return []string{r.Name, r.Phone, r.Address, r.Website, r.Category, r.Keyword, r.Place, r.Timezone, r.Status}
	},
}

// DirectoryFormat is the layout used by the simple crawler.
var DirectoryFormat = Format{
	Header: []string{"BusinessName", "Phone", "Address", "Location", "Industry", "TimeZone", "IdStatus"},
	Row: func(r listing.Record) []string {
		return []string{r.Name, r.Phone, r.Address, r.Place, r.Category, r.Timezone, r.Status}
	},
	QuoteAll: true,
}

// Encode writes the header and one row per record.
func Encode(w io.Writer, records []listing.Record, f Format) error {
	if f.QuoteAll {
		return encodeQuoted(w, records, f)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(f.Row(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into memory.
func EncodeBytes(records []listing.Record, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encoding/csv only quotes when required, so quote-all rows are built by hand.
func encodeQuoted(w io.Writer, records []listing.Record, f Format) error {
	if _, err := io.WriteString(w, quoteRow(f.Header)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if _, err := io.WriteString(w, quoteRow(f.Row(r))); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}

func quoteRow(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

// Preview maps the first n records to objects keyed by LeadFormat's header.
func Preview(records []listing.Record, n int) []map[string]string {
	if n > len(records) || n < 0 {
		n = len(records)
	}
	out := make([]map[string]string, 0, n)
	for _, r := range records[:n] {
		row := LeadFormat.Row(r)
		m := make(map[string]string, len(row))
		for i, col := range LeadFormat.Header {
			m[col] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// ProgressName names the per-batch checkpoint file.
func ProgressName(t time.Time) string {
	return "multi_session_progress_" + t.Format("150405") + ".csv"
}

// FinalName names the end-of-run file.
func FinalName(t time.Time) string {
	return "multi_session_final_" + t.Format("20060102_150405") + ".csv"
}

// PlaceName names the simple crawler output for one place.
func PlaceName(place string) string {
	return place + "-yellowpages-scraped-data.csv"
}
