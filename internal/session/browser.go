package session

import (
	"context"
	"net/url"
	"strconv"

	"github.com/JakeFAU/listing-harvester/internal/listing"
)

// DefaultUserAgent is a current desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultSearchURL is the results endpoint queried for every task.
const DefaultSearchURL = "https://www.yellowpages.com/search"

// LaunchOptions describe one isolated browser instance.
type LaunchOptions struct {
	// ProxyServer is a proxy URL such as http://host:port. Empty means direct.
	ProxyServer string
	UserAgent   string
	Width       int
	Height      int
	Headless    bool
}

// Browser is a single tab in a browser instance owned by one task.
type Browser interface {
	// Navigate loads url and returns once the document is ready.
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	MoveMouse(ctx context.Context, x, y float64) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Close tears down the tab and the browser process.
	Close() error
}

// Launcher starts browsers. ctx bounds the lifetime of the browser: when it
// ends the browser process is killed.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// BuildURL renders the search URL for task.
func BuildURL(base string, task listing.Task) (string, error) {
	if base == "" {
		base = DefaultSearchURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_terms", task.Keyword)
	q.Set("geo_location_terms", task.Place)
	q.Set("page", strconv.Itoa(task.Page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
