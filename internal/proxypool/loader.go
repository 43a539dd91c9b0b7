package proxypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const defaultFeedTimeout = 30 * time.Second

// Loader fetches the proxy list from a remote feed or a local file. Failures
// never surface as errors: they produce an empty pool.
type Loader struct {
	FeedURL string
	File    string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// Load reads the configured source. When both a feed and a file are set the
// feed is tried first and the file is used if the feed yields nothing.
func (l Loader) Load(ctx context.Context) *Pool {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if l.FeedURL != "" {
		eps, err := l.fetch(ctx)
		if err != nil {
			logger.Warn("proxy feed unavailable", zap.String("url", l.FeedURL), zap.Error(err))
		}
		if len(eps) > 0 {
			logger.Info("proxy feed loaded", zap.Int("count", len(eps)))
			return New(eps)
		}
	}
	if l.File != "" {
		eps, err := readFile(l.File)
		if err != nil {
			logger.Warn("proxy file unreadable", zap.String("path", l.File), zap.Error(err))
		}
		if len(eps) > 0 {
			logger.Info("proxy file loaded", zap.Int("count", len(eps)))
			return New(eps)
		}
	}
	return New(nil)
}

func (l Loader) fetch(ctx context.Context) ([]Endpoint, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	client := l.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy feed request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch proxy feed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("proxy feed status %d", resp.StatusCode)
	}
	return Parse(resp.Body), nil
}

func readFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f), nil
}
