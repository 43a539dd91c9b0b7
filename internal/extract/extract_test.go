package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

const resultsPage = `<html><body>
<div class="search-results">
  <div class="result">
    <a class="business-name" href="/austin-tx/mip/joes-pizza"><span>Joe's Pizza</span></a>
    <div class="adr">100 Congress Ave, Austin, TX 78701</div>
    <a class="track-visit-website" href="https://joespizza.example.com/">Website</a>
    <div class="categories"><a>Pizza</a><a>Italian Restaurants</a><a>Caterers</a></div>
  </div>
  <div class="result">
    <h2><a>Ace Plumbing</a></h2>
    <div class="phone">(555) 123-4567 ext 2</div>
    <div class="address">12 Oak St</div>
    <a href="https://www.yellowpages.com/austin-tx/ace">YP</a>
    <span class="category">Plumbers</span>
  </div>
  <div class="result">
    <div class="phone">555-987-6543</div>
  </div>
  <div class="result">
    <h3><a>Short Phone Co</a></h3>
    <div class="phone">555-1234</div>
    <div class="phones">Call 512 555 0199</div>
  </div>
</div>
</body></html>`

func extractString(t *testing.T, rules Rules, markup string) []listing.Record {
	t.Helper()
	recs, err := New(rules, zap.NewNop()).ExtractHTML(strings.NewReader(markup), "https://www.yellowpages.com/search")
	require.NoError(t, err)
	return recs
}

func TestExtractDefaultRules(t *testing.T) {
	t.Parallel()

	recs := extractString(t, DefaultRules(), resultsPage)
	require.Equal(t, []listing.Record{
		{
			Name:     "Joe's Pizza",
			Address:  "100 Congress Ave, Austin, TX 78701",
			Website:  "https://joespizza.example.com/",
			Category: "Pizza, Italian Restaurants",
		},
		{
			Name:     "Ace Plumbing",
			Phone:    "5551234567",
			Address:  "12 Oak St",
			Category: "Plumbers",
		},
		{
			Name:  "Short Phone Co",
			Phone: "5125550199",
		},
	}, recs)
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultsPage))
	require.NoError(t, err)
	ex := New(DefaultRules(), nil)
	require.Equal(t, ex.Extract(doc), ex.Extract(doc))
}

func TestExtractCapsContainers(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := range 55 {
		fmt.Fprintf(&b, `<div class="result"><h3><a>Biz %d</a></h3></div>`, i)
	}
	b.WriteString("</body></html>")

	recs := extractString(t, DefaultRules(), b.String())
	require.Len(t, recs, DefaultContainerLimit)
	require.Equal(t, "Biz 39", recs[len(recs)-1].Name)
}

func TestExtractFirstContainerSelectorWins(t *testing.T) {
	t.Parallel()

	markup := `<html><body>
<div data-testid="organic-listing"><h3><a>From testid</a></h3></div>
<div class="result"><h3><a>From result</a></h3></div>
</body></html>`
	recs := extractString(t, DefaultRules(), markup)
	require.Len(t, recs, 1)
	require.Equal(t, "From result", recs[0].Name)

	fallback := `<html><body><div data-testid="organic-listing"><h2><a>Only testid</a></h2></div></body></html>`
	recs = extractString(t, DefaultRules(), fallback)
	require.Len(t, recs, 1)
	require.Equal(t, "Only testid", recs[0].Name)
}

func TestExtractNoContainers(t *testing.T) {
	t.Parallel()

	require.Empty(t, extractString(t, DefaultRules(), "<html><body><p>nothing</p></body></html>"))
}

func TestExtractRecoversContainerPanic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	rules := DefaultRules()
	rules.Phone.Normalize = func(raw string) (string, bool) {
		if strings.Contains(raw, "boom") {
			panic("bad phone node")
		}
		return NormalizePhone(raw)
	}
	markup := `<html><body>
<div class="result"><h3><a>Broken</a></h3><div class="phone">boom</div></div>
<div class="result"><h3><a>Fine</a></h3><div class="phone">512-555-0100</div></div>
</body></html>`
	recs, err := New(rules, zap.New(core)).ExtractHTML(strings.NewReader(markup), "")
	require.NoError(t, err)
	require.Equal(t, []listing.Record{{Name: "Fine", Phone: "5125550100"}}, recs)
	require.Equal(t, 1, logs.FilterMessage("container skipped").Len())
	require.Equal(t, string(listing.ErrExtractionFault), logs.All()[0].ContextMap()["error_kind"])
}

func TestExtractVCardRules(t *testing.T) {
	t.Parallel()

	markup := `<html><body>
<div class="search-results organic">
  <div class="v-card">
    <a class="business-name">Smith, Jones &amp; Co</a>
    <div class="phones phone primary">(512) 555-0101</div>
    <div class="street-address">1 Main St, Suite 2</div>
    <div class="locality">Austin, TX 78701</div>
  </div>
  <div class="v-card"><div class="locality">No name</div></div>
</div>
<div class="search-results paid"><div class="v-card"><a class="business-name">Ad</a></div></div>
</body></html>`
	recs := extractString(t, VCardRules(), markup)
	require.Equal(t, []listing.Record{{
		Name:    "Smith Jones & Co",
		Phone:   "(512) 555-0101",
		Address: "1 Main St Suite 2 Austin TX 78701",
	}}, recs)
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "(555) 123-4567 ext 2", want: "5551234567", ok: true},
		{in: "555.123.4567 x12", want: "5551234567", ok: true},
		{in: "555-123-4567x2", want: "5551234567", ok: true},
		{in: "555-123-4567 Ext: 12", want: "5551234567", ok: true},
		{in: "555-123-4567 extension 9", want: "5551234567", ok: true},
		{in: "555.123.4567 #204", want: "5551234567", ok: true},
		{in: "+1 555 123 4567", want: "15551234567", ok: true},
		{in: "555-1234", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
