// Package simplecrawl is the synchronous crawl strategy: plain HTTP fetches
// through colly, one page at a time, with the static v-card markup parsed by
// the extractor.
package simplecrawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/jitter"
	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/output"
)

// Status is stamped on every record produced by this strategy.
const Status = "5"

const (
	defaultSearchURL   = "https://www.yellowpages.com/search"
	defaultUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/64.0.3282.140 Safari/537.36"
	defaultMaxAttempts = 10
	defaultRetryDelay  = time.Second
	defaultTimeout     = 30 * time.Second
)

// ErrNotFound means the search has no results at all; the remaining pages of
// the keyword are skipped.
var ErrNotFound = errors.New("search not found")

// Config controls the crawler.
type Config struct {
	SearchURL string
	UserAgent string
	Timezone  string
	// Rate is the request budget per second. Zero means one request per second.
	Rate        rate.Limit
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.SearchURL == "" {
		c.SearchURL = defaultSearchURL
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Rate == 0 {
		c.Rate = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Crawler fetches result pages sequentially.
type Crawler struct {
	cfg       Config
	base      *colly.Collector
	limiter   *rate.Limiter
	extractor *extract.Extractor
	logger    *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, logger *zap.Logger) (*Crawler, error) {
	cfg = cfg.withDefaults()
	if _, err := url.Parse(cfg.SearchURL); err != nil {
		return nil, fmt.Errorf("search url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Crawler{
		cfg:       cfg,
		base:      c,
		limiter:   rate.NewLimiter(cfg.Rate, 1),
		extractor: extract.New(extract.VCardRules(), logger.Named("extract")),
		logger:    logger.Named("simplecrawl"),
	}, nil
}

type page struct {
	status int
	body   []byte
	url    string
}

// fetch performs one rate-limited GET. Only transport errors are returned;
// every HTTP status comes back in page.status.
func (c *Crawler) fetch(ctx context.Context, target string) (page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return page{}, fmt.Errorf("rate limit wait: %w", err)
	}
	var (
		got     page
		respErr error
	)
	collector := c.base.Clone()
	collector.Context = ctx
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-GB,en;q=0.9,en-US;q=0.8")
		r.Headers.Set("Cache-Control", "max-age=0")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})
	collector.OnResponse(func(r *colly.Response) {
		got = page{status: r.StatusCode, body: append([]byte(nil), r.Body...), url: r.Request.URL.String()}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})
	if err := collector.Visit(target); err != nil {
		return page{}, fmt.Errorf("visit %s: %w", target, err)
	}
	if respErr != nil {
		return page{}, fmt.Errorf("response %s: %w", target, respErr)
	}
	return got, nil
}

// fetchWithRetry retries transport errors up to MaxAttempts times.
func (c *Crawler) fetchWithRetry(ctx context.Context, target string) (page, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		p, err := c.fetch(ctx, target)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return page{}, err
		}
		c.logger.Warn("fetch failed", zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < c.cfg.MaxAttempts {
			if err := jitter.SleepFor(ctx, c.cfg.RetryDelay); err != nil {
				return page{}, err
			}
		}
	}
	return page{}, fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// SearchURL renders the results URL. A page below 1 omits the page parameter.
func (c *Crawler) SearchURL(keyword, place string, pageNum int) string {
	u, _ := url.Parse(c.cfg.SearchURL)
	q := u.Query()
	q.Set("search_terms", keyword)
	q.Set("geo_location_terms", place)
	if pageNum >= 1 {
		q.Set("page", strconv.Itoa(pageNum))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LastPage reads the page count from the pagination block of the first
// results page. ok is false when the page did not answer 200, in which case
// the keyword is skipped.
func (c *Crawler) LastPage(ctx context.Context, keyword, place string) (last int, ok bool, err error) {
	p, err := c.fetch(ctx, c.SearchURL(keyword, place, 0))
	if err != nil {
		return 0, false, err
	}
	if p.status != http.StatusOK {
		return 0, false, nil
	}
	return ParseLastPage(p.body), true, nil
}

// ParseLastPage returns the number in the second to last pagination item, or
// 1 when there is no usable pagination.
func ParseLastPage(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 1
	}
	items := doc.Find("div.pagination ul li")
	if items.Length() < 2 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(items.Eq(items.Length() - 2).Text()))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Page fetches and extracts one results page. A 404 returns ErrNotFound; any
// other non-200 status yields no records.
func (c *Crawler) Page(ctx context.Context, keyword, place string, pageNum int) ([]listing.Record, error) {
	target := c.SearchURL(keyword, place, pageNum)
	p, err := c.fetchWithRetry(ctx, target)
	if err != nil {
		return nil, err
	}
	switch p.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		c.logger.Warn("unexpected status", zap.String("url", target), zap.Int("status", p.status))
		return nil, nil
	}

	records, err := c.extractor.ExtractHTML(bytes.NewReader(p.body), p.url)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", target, err)
	}
	for i := range records {
		records[i].Category = extract.RemoveCommas(keyword)
		records[i].Keyword = keyword
		records[i].Place = place
		records[i].Timezone = c.cfg.Timezone
		records[i].Status = Status
	}
	return records, nil
}

// Keyword crawls every page of one keyword in one place.
func (c *Crawler) Keyword(ctx context.Context, keyword, place string) ([]listing.Record, error) {
	last, ok, err := c.LastPage(ctx, keyword, place)
	if err != nil {
		return nil, fmt.Errorf("last page: %w", err)
	}
	if !ok {
		c.logger.Info("keyword skipped", zap.String("keyword", keyword), zap.String("place", place))
		return nil, nil
	}

	var out []listing.Record
	for n := 1; n <= last; n++ {
		c.logger.Info("scraping page",
			zap.String("keyword", keyword), zap.String("place", place),
			zap.Int("page", n), zap.Int("last_page", last))
		records, err := c.Page(ctx, keyword, place, n)
		if errors.Is(err, ErrNotFound) {
			c.logger.Info("no results", zap.String("keyword", keyword), zap.String("place", place))
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, err
			}
			c.logger.Error("page failed", zap.Int("page", n), zap.Error(err))
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}

// PlaceResult summarises one place.
type PlaceResult struct {
	Place   string
	Records int
	URI     string
}

// Run crawls every keyword for each place and writes one CSV per place that
// produced records.
func (c *Crawler) Run(ctx context.Context, keywords, places []string, store listing.BlobStore) ([]PlaceResult, error) {
	if store == nil {
		return nil, errors.New("simplecrawl: blob store is required")
	}
	results := make([]PlaceResult, 0, len(places))
	for _, place := range places {
		var all []listing.Record
		for _, keyword := range keywords {
			records, err := c.Keyword(ctx, keyword, place)
			all = append(all, records...)
			if err != nil {
				if ctx.Err() != nil {
					return results, err
				}
				c.logger.Error("keyword failed", zap.String("keyword", keyword), zap.String("place", place), zap.Error(err))
			}
		}
		res := PlaceResult{Place: place, Records: len(all)}
		if len(all) > 0 {
			data, err := output.EncodeBytes(all, output.DirectoryFormat)
			if err != nil {
				return results, err
			}
			uri, err := store.PutObject(ctx, output.PlaceName(place), "text/csv", data)
			if err != nil {
				return results, fmt.Errorf("write %s: %w", place, err)
			}
			res.URI = uri
			c.logger.Info("place written", zap.String("place", place), zap.Int("records", len(all)), zap.String("uri", uri))
		}
		results = append(results, res)
	}
	return results, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}
