package proxypool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	feed := strings.Join([]string{
		"10.0.0.1:8080",
		"",
		"# comment",
		"no-port",
		"10.0.0.2:notaport",
		"10.0.0.3:3128:extra",
		"  10.0.0.4:3128  ",
		":8080",
	}, "\n")
	eps := Parse(strings.NewReader(feed))
	require.Equal(t, []Endpoint{
		{Address: "10.0.0.1:8080", ID: "10.0.0.1:8080"},
		{Address: "10.0.0.4:3128", ID: "10.0.0.4:3128"},
	}, eps)
	require.Equal(t, "http://10.0.0.1:8080", eps[0].ServerURL())
}

func TestPickEmptyPoolMeansDirect(t *testing.T) {
	t.Parallel()

	pool := New(nil)
	for range 5 {
		require.Nil(t, pool.Pick())
	}
	var nilPool *Pool
	require.Nil(t, nilPool.Pick())
}

func TestPickReturnsPoolMember(t *testing.T) {
	t.Parallel()

	eps := []Endpoint{{Address: "a:1", ID: "a:1"}, {Address: "b:2", ID: "b:2"}}
	pool := New(eps)
	seen := map[string]bool{}
	for range 200 {
		ep := pool.Pick()
		require.NotNil(t, ep)
		require.Contains(t, eps, *ep)
		seen[ep.ID] = true
	}
	require.Len(t, seen, 2)
}

func TestLoaderFetchesFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:80\nbroken\n5.6.7.8:3128\n"))
	}))
	t.Cleanup(srv.Close)

	pool := Loader{FeedURL: srv.URL}.Load(context.Background())
	require.Equal(t, 2, pool.Len())
}

func TestLoaderUnavailableFeedYieldsEmptyPool(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	pool := Loader{FeedURL: srv.URL}.Load(context.Background())
	require.Zero(t, pool.Len())
	require.Nil(t, pool.Pick())
}

func TestLoaderFeedTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	pool := Loader{FeedURL: srv.URL, Timeout: 50 * time.Millisecond}.Load(context.Background())
	require.Zero(t, pool.Len())
}

func TestLoaderFallsBackToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("9.9.9.9:9999\n"), 0o600))

	pool := Loader{FeedURL: "http://127.0.0.1:1/unreachable", File: path}.Load(context.Background())
	require.Equal(t, []Endpoint{{Address: "9.9.9.9:9999", ID: "9.9.9.9:9999"}}, pool.Endpoints())

	missing := Loader{File: filepath.Join(t.TempDir(), "missing.txt")}.Load(context.Background())
	require.Zero(t, missing.Len())
}

func TestTrackerExcludesFailingEndpoints(t *testing.T) {
	t.Parallel()

	a := Endpoint{Address: "a:1", ID: "a:1"}
	b := Endpoint{Address: "b:2", ID: "b:2"}
	tr := NewTracker(New([]Endpoint{a, b}), 2)
	boom := errors.New("proxy refused")

	tr.Report(a, boom)
	tr.Report(a, boom)
	require.Equal(t, 2, tr.Failures("a:1"))
	for range 50 {
		require.Equal(t, b, *tr.Pick())
	}

	tr.Report(a, nil)
	require.Zero(t, tr.Failures("a:1"))
}

func TestTrackerFallsBackWhenAllExcluded(t *testing.T) {
	t.Parallel()

	a := Endpoint{Address: "a:1", ID: "a:1"}
	tr := NewTracker(New([]Endpoint{a}), 1)
	tr.Report(a, errors.New("down"))
	require.Equal(t, a, *tr.Pick())
}

func TestTrackerDisabled(t *testing.T) {
	t.Parallel()

	a := Endpoint{Address: "a:1", ID: "a:1"}
	tr := NewTracker(New([]Endpoint{a}), 0)
	for range 5 {
		tr.Report(a, errors.New("down"))
	}
	require.Equal(t, a, *tr.Pick())
	require.Nil(t, NewTracker(New(nil), 3).Pick())
}

func TestTrackerNilPoolMeansDirect(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil, 2)
	require.Nil(t, tr.Pick())
	tr.Report(Endpoint{Address: "a:1", ID: "a:1"}, errors.New("down"))
	require.Nil(t, tr.Pick())
}
