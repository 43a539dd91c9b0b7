// Package proxypool loads proxy endpoints from a line-oriented feed and hands
// them out to browser sessions.
package proxypool

import (
	"bufio"
	"io"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
)

// Endpoint is one proxy server. It is never mutated after load.
type Endpoint struct {
	Address string `json:"address"`
	ID      string `json:"id"`
}

// ServerURL returns the proxy URL handed to the browser.
func (e Endpoint) ServerURL() string {
	return "http://" + e.Address
}

// Picker selects a proxy for a session and accepts feedback about how the
// session went. A nil Endpoint means a direct connection.
type Picker interface {
	Pick() *Endpoint
	Report(ep Endpoint, err error)
}

// Pool is an immutable set of endpoints with uniform random selection.
type Pool struct {
	endpoints []Endpoint
	intn      func(n int) int
}

// New builds a Pool over endpoints.
func New(endpoints []Endpoint) *Pool {
	return &Pool{
		endpoints: append([]Endpoint(nil), endpoints...),
		intn:      rand.IntN,
	}
}

// Len reports the number of endpoints.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// Endpoints returns a copy of the loaded endpoints.
func (p *Pool) Endpoints() []Endpoint {
	if p == nil {
		return nil
	}
	return append([]Endpoint(nil), p.endpoints...)
}

// Pick returns a uniformly random endpoint, or nil when the pool is empty.
func (p *Pool) Pick() *Endpoint {
	if p.Len() == 0 {
		return nil
	}
	ep := p.endpoints[p.intn(len(p.endpoints))]
	return &ep
}

// Report is a no-op; a bare Pool keeps no health state.
func (p *Pool) Report(Endpoint, error) {}

// Parse reads one host:port per line. Blank, commented and malformed lines
// are skipped.
func Parse(r io.Reader) []Endpoint {
	var out []Endpoint
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ep, ok := parseLine(scanner.Text())
		if ok {
			out = append(out, ep)
		}
	}
	return out
}

func parseLine(line string) (Endpoint, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Endpoint{}, false
	}
	if strings.Count(line, ":") != 1 {
		return Endpoint{}, false
	}
	host, port, err := net.SplitHostPort(line)
	if err != nil || host == "" {
		return Endpoint{}, false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return Endpoint{}, false
	}
	addr := net.JoinHostPort(host, port)
	return Endpoint{Address: addr, ID: addr}, true
}
