// Package connectivity decides whether the HR backend is reachable.
package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Probe reports whether remote calls can currently be attempted.
type Probe interface {
	Online(ctx context.Context) bool
}

// DefaultTimeout bounds a single reachability check.
const DefaultTimeout = 5 * time.Second

// HTTPProbe issues a GET against URL and treats any response below 500 as
// online. Network errors and timeouts mean offline.
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProbe returns a probe for url using the default client and timeout.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, Client: http.DefaultClient, Timeout: DefaultTimeout}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	if p.URL == "" {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Switch is a Probe whose state is set explicitly.
type Switch struct {
	online atomic.Bool
}

// NewSwitch returns a Switch in the given state.
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) Set(online bool) { s.online.Store(online) }
func (s *Switch) Online(context.Context) bool { return s.online.Load() }
