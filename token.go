// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultOAuthURL is the token endpoint used to exchange refresh tokens.
const DefaultOAuthURL = "https://oauth.secure.pixiv.net/auth/token"

// DefaultAuthHeader is the fixed set of headers sent to the token endpoint.
var DefaultAuthHeader = http.Header{
	"App-Os":         {"ios"},
	"App-Os-Version": {"10.3.1"},
	"App-Version":    {"6.7.1"},
	"User-Agent":     {"PixivIOSApp/6.7.1 (iOS 10.3.1; iPhone8,1)"},
}

// tokens are used for this fraction of their lifetime before being refreshed,
// leaving a margin for clock skew and request latency.
const tokenLifetimeFraction = 0.8

// TokenSource supplies bearer tokens for the API, exchanging its refresh
// token for a new access token whenever the current one has expired.
//
// Concurrent callers that find the token expired share a single refresh.
type TokenSource struct {
	Client *http.Client // client used for the token exchange
	URL    string       // token endpoint; DefaultOAuthURL if empty

	RefreshToken string
	ClientID     string
	ClientSecret string
	HashSecret   string

	// Header is sent with every token request.  If nil, DefaultAuthHeader
	// is used.
	Header http.Header

	now func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	accessToken string
	expiry      time.Time
}

// Token returns a valid access token, refreshing it first if it has
// expired.  Failures are returned as an *AuthError.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := ts.cached(); ok {
		return token, nil
	}

	v, err, _ := ts.group.Do("refresh", func() (interface{}, error) {
		// another caller may have refreshed while we were waiting
		if token, ok := ts.cached(); ok {
			return token, nil
		}
		// the refresh is shared, so it must outlive the caller that started it
		return ts.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Expiry returns the time after which the current access token will be
// refreshed.  It is the zero time until the first refresh.
func (ts *TokenSource) Expiry() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiry
}

func (ts *TokenSource) cached() (string, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.clock().After(ts.expiry) {
		return "", false
	}
	return ts.accessToken, true
}

type tokenResponse struct {
	Response *struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	} `json:"response"`
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {ts.RefreshToken},
		"client_id":     {ts.ClientID},
		"client_secret": {ts.ClientSecret},
		"hash_secret":   {ts.HashSecret},
	}

	u := ts.URL
	if u == "" {
		u = DefaultOAuthURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{err}
	}
	header := ts.Header
	if header == nil {
		header = DefaultAuthHeader
	}
	copyHeader(req.Header, header)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := ts.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		tokenRefreshErrors.Inc()
		return "", &AuthError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenRefreshErrors.Inc()
		return "", &AuthError{fmt.Errorf("token endpoint returned status: %v", resp.Status)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		tokenRefreshErrors.Inc()
		return "", &AuthError{err}
	}
	var tr tokenResponse
	if err := json.Unmarshal(b, &tr); err != nil {
		tokenRefreshErrors.Inc()
		return "", &AuthError{fmt.Errorf("decoding token response: %w", err)}
	}
	if tr.Response == nil || tr.Response.AccessToken == "" || tr.Response.ExpiresIn <= 0 {
		tokenRefreshErrors.Inc()
		return "", &AuthError{errors.New("token response missing access_token or expires_in")}
	}

	lifetime := time.Duration(float64(tr.Response.ExpiresIn) * tokenLifetimeFraction * float64(time.Second))

	ts.mu.Lock()
	ts.accessToken = tr.Response.AccessToken
	ts.expiry = ts.clock().Add(lifetime)
	ts.mu.Unlock()

	tokenRefreshCount.Inc()
	return tr.Response.AccessToken, nil
}

func (ts *TokenSource) clock() time.Time {
	if ts.now != nil {
		return ts.now()
	}
	return time.Now()
}
