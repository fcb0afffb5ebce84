package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

// Default token lifecycle settings. Salesforce's password grant does not
// return expires_in, so validity is an assumption and a 401 can still arrive
// earlier.
const (
	DefaultRefreshBuffer   = 300 * time.Second
	DefaultAssumedValidity = 2 * time.Hour
	DefaultAuthTimeout     = 30 * time.Second
)

// TokenState is a cached access token and the instance it belongs to.
// Expiry is always IssuedAt plus the assumed validity.
type TokenState struct {
	AccessToken string
	InstanceURL string
	IssuedAt    time.Time
	Expiry      time.Time
}

// Options tunes an Authority. Zero values take the defaults above.
type Options struct {
	RefreshBuffer   time.Duration
	AssumedValidity time.Duration

	// HTTPClient is used for the token endpoint only.
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Authority owns the access token for one set of credentials and refreshes it
// so that concurrent callers trigger at most one token request at a time.
type Authority struct {
	oauth    *oauth2.Config
	username string
	password string

	httpClient    *http.Client
	refreshBuffer time.Duration
	validity      time.Duration
	logger        *slog.Logger
	now           func() time.Time

	// refresh is a context-aware mutex around the token request.
	refresh *semaphore.Weighted
	state   atomic.Pointer[TokenState]
}

// NewAuthority validates creds and returns an unauthenticated Authority.
func NewAuthority(creds Credentials, opts Options) (*Authority, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	a := &Authority{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  creds.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:      creds.Username,
		password:      creds.Password,
		httpClient:    opts.HTTPClient,
		refreshBuffer: opts.RefreshBuffer,
		validity:      opts.AssumedValidity,
		logger:        opts.Logger,
		now:           opts.Now,
		refresh:       semaphore.NewWeighted(1),
	}

	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: DefaultAuthTimeout}
	}
	if a.refreshBuffer <= 0 {
		a.refreshBuffer = DefaultRefreshBuffer
	}
	if a.validity <= 0 {
		a.validity = DefaultAssumedValidity
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// AuthDetails returns a usable access token and instance URL, authenticating
// first if there is no token or it is within the refresh buffer of expiry.
func (a *Authority) AuthDetails(ctx context.Context) (token, instanceURL string, err error) {
	if s := a.state.Load(); s != nil && a.fresh(s) {
		return s.AccessToken, s.InstanceURL, nil
	}

	if err := a.refresh.Acquire(ctx, 1); err != nil {
		return "", "", err
	}
	defer a.refresh.Release(1)

	// Another caller may have refreshed while we waited.
	if s := a.state.Load(); s != nil && a.fresh(s) {
		return s.AccessToken, s.InstanceURL, nil
	}

	s, err := a.authenticate(ctx)
	if err != nil {
		return "", "", err
	}
	return s.AccessToken, s.InstanceURL, nil
}

// Authenticate performs the password grant unconditionally and caches the
// result.
func (a *Authority) Authenticate(ctx context.Context) error {
	if err := a.refresh.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.refresh.Release(1)

	_, err := a.authenticate(ctx)
	return err
}

// HandleUnauthorized forces a refresh after a 401. rejected is the token the
// server refused; if the cached token has already moved on, it is returned
// without another token request. An empty rejected always refreshes.
func (a *Authority) HandleUnauthorized(ctx context.Context, rejected string) (token, instanceURL string, err error) {
	if err := a.refresh.Acquire(ctx, 1); err != nil {
		return "", "", err
	}
	defer a.refresh.Release(1)

	if s := a.state.Load(); s != nil && rejected != "" && s.AccessToken != rejected {
		return s.AccessToken, s.InstanceURL, nil
	}

	a.state.Store(nil)
	s, err := a.authenticate(ctx)
	if err != nil {
		return "", "", err
	}
	return s.AccessToken, s.InstanceURL, nil
}

// Invalidate drops the cached token so the next AuthDetails authenticates.
func (a *Authority) Invalidate() {
	a.state.Store(nil)
}

// State returns a copy of the cached token state, or nil if unauthenticated.
func (a *Authority) State() *TokenState {
	s := a.state.Load()
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Client returns an HTTP client that authorizes every request with this
// Authority and retries once after a 401.
func (a *Authority) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &Transport{Source: a},
	}
}

func (a *Authority) fresh(s *TokenState) bool {
	return a.now().Before(s.Expiry.Add(-a.refreshBuffer))
}

// authenticate must be called with the refresh lock held.
func (a *Authority) authenticate(ctx context.Context) (*TokenState, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	tok, err := a.oauth.PasswordCredentialsToken(ctx, a.username, a.password)
	if err != nil {
		return nil, toAuthenticationError(err)
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if tok.AccessToken == "" || instanceURL == "" {
		return nil, &AuthenticationError{
			StatusCode: http.StatusBadGateway,
			Message:    "token response is missing access_token or instance_url",
		}
	}

	// The server's issued_at is kept unless it disagrees with the local
	// clock by more than the refresh buffer; expiry is checked locally.
	issuedAt := a.now()
	if ts, ok := parseIssuedAt(tok.Extra("issued_at")); ok {
		if skew := issuedAt.Sub(ts).Abs(); skew <= a.refreshBuffer {
			issuedAt = ts
		} else {
			a.logger.Debug("ignoring skewed issued_at", "issued_at", ts.Format(time.RFC3339), "skew", skew)
		}
	}

	s := &TokenState{
		AccessToken: tok.AccessToken,
		InstanceURL: NormalizeInstanceURL(instanceURL),
		IssuedAt:    issuedAt,
		Expiry:      issuedAt.Add(a.validity),
	}
	a.state.Store(s)

	a.logger.Debug("authenticated with Salesforce",
		"instance_url", s.InstanceURL,
		"expires_at", s.Expiry.Format(time.RFC3339))
	return s, nil
}

// parseIssuedAt reads Salesforce's issued_at, epoch milliseconds as a string.
func parseIssuedAt(v any) (time.Time, bool) {
	var ms int64
	switch val := v.(type) {
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		ms = n
	case float64:
		ms = int64(val)
	default:
		return time.Time{}, false
	}
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func toAuthenticationError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		msg := rErr.ErrorDescription
		if msg == "" {
			msg = rErr.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(rErr.Body))
		}
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return &AuthenticationError{StatusCode: status, Message: msg, Err: err}
	}
	return &AuthenticationError{Message: "token endpoint unreachable", Err: err}
}
