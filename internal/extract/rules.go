package extract

import (
	"regexp"
	"strings"
)

// FieldRule is an ordered selector cascade for one record field. The first
// selector whose first match produces an accepted value wins.
type FieldRule struct {
	Selectors []string
	// Attr reads an attribute instead of the element text.
	Attr string
	// Normalize rewrites a raw value. Returning false rejects the value and
	// moves on to the next selector.
	Normalize func(raw string) (string, bool)
	// Collect gathers the text of every match of all selectors and keeps the
	// first Collect non-empty values joined with ", ".
	Collect int
	// Concat joins the first match of every selector with a space instead of
	// stopping at the first hit.
	Concat bool
}

// Rules is the complete description of how to find listings on a page.
type Rules struct {
	// Containers are tried in order; the first selector with any match wins.
	Containers []string
	// Limit caps the containers read per page. Zero means no cap.
	Limit    int
	Name     FieldRule
	Phone    FieldRule
	Address  FieldRule
	Website  FieldRule
	Category FieldRule
	// Clean is applied to every extracted value.
	Clean func(string) string
}

// DefaultContainerLimit bounds extraction work on one results page.
const DefaultContainerLimit = 40

// DefaultRules describes the rendered search results page.
func DefaultRules() Rules {
	return Rules{
		Containers: []string{`.result`, `[data-testid="organic-listing"]`, `.search-results .result`},
		Limit:      DefaultContainerLimit,
		Name:       FieldRule{Selectors: []string{`.business-name span`, `.business-name`, `h3 a`, `h2 a`}},
		Phone: FieldRule{
			Selectors: []string{`.phone`, `.phones`, `a[href*="tel:"]`},
			Normalize: NormalizePhone,
		},
		Address:  FieldRule{Selectors: []string{`.adr, .address`}},
		Website:  FieldRule{Selectors: []string{`a[href*="http"]:not([href*="yellowpages.com"])`}, Attr: "href"},
		Category: FieldRule{Selectors: []string{`.categories a, .category`}, Collect: 2},
	}
}

// VCardRules describes the static markup served to plain HTTP clients.
func VCardRules() Rules {
	return Rules{
		Containers: []string{`div.search-results.organic div.v-card`},
		Name:       FieldRule{Selectors: []string{`a.business-name`}},
		Phone:      FieldRule{Selectors: []string{`div.phones.phone.primary`}},
		Address:    FieldRule{Selectors: []string{`.street-address`, `.locality`}, Concat: true},
		Clean:      RemoveCommas,
	}
}

var (
	nonDigits     = regexp.MustCompile(`\D`)
	extensionMark = regexp.MustCompile(`(?i)\s*(?:extension|ext\.?|x|#)\s*[:.]?\s*\d+\s*$`)
)

// MinPhoneDigits is the shortest digit string accepted as a phone number.
const MinPhoneDigits = 10

// NormalizePhone drops a trailing extension and every non-digit. Values with
// fewer than MinPhoneDigits digits are rejected.
func NormalizePhone(raw string) (string, bool) {
	raw = extensionMark.ReplaceAllString(raw, "")
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < MinPhoneDigits {
		return "", false
	}
	return digits, true
}

// RemoveCommas strips commas so values survive naive CSV consumers.
func RemoveCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
