// Package extract turns a parsed results page into listing records using
// data-driven selector rules.
package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

// Extractor applies Rules to documents. It holds no per-call state, so the
// same document always yields the same records.
type Extractor struct {
	rules  Rules
	logger *zap.Logger
}

// New builds an Extractor.
func New(rules Rules, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{rules: rules, logger: logger}
}

// ExtractHTML parses markup and extracts records. base resolves relative links
// and may be empty.
func (e *Extractor) ExtractHTML(r io.Reader, base string) ([]listing.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if base != "" {
		if u, err := url.Parse(base); err == nil {
			doc.Url = u
		}
	}
	return e.Extract(doc), nil
}

// Extract returns the partial records (name, phone, address, website,
// category) found in doc, in document order.
func (e *Extractor) Extract(doc *goquery.Document) []listing.Record {
	containers := e.containers(doc.Selection)
	if containers == nil {
		return nil
	}
	records := make([]listing.Record, 0, containers.Length())
	containers.EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if e.rules.Limit > 0 && i >= e.rules.Limit {
			return false
		}
		rec, ok, err := e.readContainer(sel, doc.Url)
		if err != nil {
			e.logger.Warn("container skipped",
				zap.String("error_kind", string(listing.ErrExtractionFault)),
				zap.Int("index", i),
				zap.Error(err))
			return true
		}
		if ok {
			records = append(records, rec)
		}
		return true
	})
	return records
}

func (e *Extractor) containers(root *goquery.Selection) *goquery.Selection {
	for _, sel := range e.rules.Containers {
		found := root.Find(sel)
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

// readContainer reads one listing. A panic while reading is returned as an
// extraction fault so only this container is lost.
func (e *Extractor) readContainer(sel *goquery.Selection, base *url.URL) (rec listing.Record, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = listing.NewPageError(listing.ErrExtractionFault, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	rec.Name = e.field(sel, e.rules.Name, base)
	if rec.Name == "" {
		return listing.Record{}, false, nil
	}
	rec.Phone = e.field(sel, e.rules.Phone, base)
	rec.Address = e.field(sel, e.rules.Address, base)
	rec.Website = e.field(sel, e.rules.Website, base)
	rec.Category = e.field(sel, e.rules.Category, base)
	return rec, true, nil
}

func (e *Extractor) field(sel *goquery.Selection, rule FieldRule, base *url.URL) string {
	var value string
	switch {
	case len(rule.Selectors) == 0:
		return ""
	case rule.Collect > 0:
		value = collect(sel, rule)
	case rule.Concat:
		value = concat(sel, rule, base)
	default:
		value = first(sel, rule, base)
	}
	if e.rules.Clean != nil {
		value = strings.TrimSpace(e.rules.Clean(value))
	}
	return value
}

func first(sel *goquery.Selection, rule FieldRule, base *url.URL) string {
	for _, css := range rule.Selectors {
		match := sel.Find(css).First()
		if match.Length() == 0 {
			continue
		}
		raw := read(match, rule.Attr, base)
		if raw == "" {
			continue
		}
		if rule.Normalize == nil {
			return raw
		}
		if v, ok := rule.Normalize(raw); ok {
			return v
		}
	}
	return ""
}

func concat(sel *goquery.Selection, rule FieldRule, base *url.URL) string {
	parts := make([]string, 0, len(rule.Selectors))
	for _, css := range rule.Selectors {
		v := read(sel.Find(css).First(), rule.Attr, base)
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func collect(sel *goquery.Selection, rule FieldRule) string {
	values := make([]string, 0, rule.Collect)
	sel.Find(strings.Join(rule.Selectors, ", ")).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v := strings.TrimSpace(s.Text()); v != "" {
			values = append(values, v)
		}
		return len(values) < rule.Collect
	})
	return strings.Join(values, ", ")
}

func read(match *goquery.Selection, attr string, base *url.URL) string {
	if match.Length() == 0 {
		return ""
	}
	if attr == "" {
		return strings.TrimSpace(match.Text())
	}
	v, ok := match.Attr(attr)
	if !ok {
		return ""
	}
	v = strings.TrimSpace(v)
	if attr == "href" && base != nil {
		if ref, err := url.Parse(v); err == nil {
			return base.ResolveReference(ref).String()
		}
	}
	return v
}
