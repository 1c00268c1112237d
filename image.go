// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"context"
	"net/http"
	"net/url"
)

// DefaultReferer is sent with image requests.  The image servers refuse
// requests that do not appear to come from the main site.
const DefaultReferer = "http://www.pixiv.net/"

// DefaultUserAgent is the User-Agent sent with image requests.
const DefaultUserAgent = "willnorris/illustproxy"

// ImageFetcher fetches original images from the image servers.
type ImageFetcher struct {
	// Client is used to fetch images.  It is expected to be backed by a
	// response cache; since every request carries the same Referer and
	// User-Agent, cached images are shared between all callers.
	Client *http.Client

	Referer   string // DefaultReferer if empty
	UserAgent string // DefaultUserAgent if empty
}

// Fetch requests the image at u.  The caller must close the response body.
// Non-2xx responses are returned as-is, not as errors.
func (f *ImageFetcher) Fetch(ctx context.Context, u string) (*http.Response, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, &ParseError{Source: u, Message: "invalid image URL", Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ParseError{Source: u, Message: "image URL must be http or https"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, &FetchError{u, err}
	}
	req.Header.Set("Referer", valueOr(f.Referer, DefaultReferer))
	req.Header.Set("User-Agent", valueOr(f.UserAgent, DefaultUserAgent))

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		remoteImageFetchErrors.Inc()
		return nil, &FetchError{u, err}
	}
	if fromCache(resp) {
		imageServedFromCacheCount.Inc()
	}
	return resp, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
