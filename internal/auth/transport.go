package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/open-cli-collective/salesforce-sync/internal/version"
)

// TokenSource supplies bearer tokens and reacts to rejected ones.
// *Authority implements it.
type TokenSource interface {
	AuthDetails(ctx context.Context) (token, instanceURL string, err error)
	HandleUnauthorized(ctx context.Context, rejected string) (token, instanceURL string, err error)
}

// Transport is an http.RoundTripper that sets the bearer token and a
// User-Agent on each request.
// A 401 response triggers HandleUnauthorized and the request is sent once
// more with the new token. Requests whose body cannot be replayed are not
// retried.
//
// If a refresh reports a new instance URL, requests addressed to an instance
// host seen earlier are sent to the new one.
type Transport struct {
	Source TokenSource

	// Base is the underlying transport. nil means http.DefaultTransport.
	Base http.RoundTripper

	mu    sync.Mutex
	hosts map[string]bool
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, instanceURL, err := t.Source.AuthDetails(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.base().RoundTrip(t.prepare(req, token, instanceURL))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	hasBody := req.Body != nil && req.Body != http.NoBody
	if hasBody && req.GetBody == nil {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, instanceURL, err = t.Source.HandleUnauthorized(ctx, token)
	if err != nil {
		return nil, err
	}

	retry := t.prepare(req, token, instanceURL)
	if hasBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base().RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// prepare clones req with the bearer token and, when the org has moved,
// the current instance host.
func (t *Transport) prepare(req *http.Request, token, instanceURL string) *http.Request {
	r := withBearer(req, token)

	cur, err := url.Parse(instanceURL)
	if err != nil || cur.Host == "" {
		return r
	}

	t.mu.Lock()
	if t.hosts == nil {
		t.hosts = make(map[string]bool)
	}
	t.hosts[cur.Host] = true
	moved := r.URL.Host != cur.Host && t.hosts[r.URL.Host]
	t.mu.Unlock()

	if moved {
		r.URL.Scheme = cur.Scheme
		r.URL.Host = cur.Host
		r.Host = ""
	}
	return r
}

func withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", version.UserAgent())
	}
	return r
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
