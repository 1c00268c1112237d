// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIURL is the base URL of the app API.
const DefaultAPIURL = "https://app-api.pixiv.net"

// DefaultMetadataMaxAge is how long illustration metadata is cached.
const DefaultMetadataMaxAge = time.Hour

// DefaultAPIHeader is the fixed set of headers sent to the app API.  It does
// not include credentials, which are added per request.
var DefaultAPIHeader = http.Header{
	"Accept":         {"application/json"},
	"App-Os":         {"ios"},
	"App-Os-Version": {"12.2"},
	"App-Version":    {"7.6.2"},
	"User-Agent":     {"PixivIOSApp/7.6.2 (iOS 12.2; iPhone9,1)"},
}

// Illust is the metadata for a single illustration.
type Illust struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	PageCount int    `json:"page_count"`

	MetaSinglePage struct {
		OriginalImageURL string `json:"original_image_url"`
	} `json:"meta_single_page"`

	// MetaPages lists every page of a multi-page illustration, in order.
	// It is empty for single-page illustrations.
	MetaPages []IllustPage `json:"meta_pages"`
}

// IllustPage is one page of a multi-page illustration.
type IllustPage struct {
	ImageURLs struct {
		Original string `json:"original"`
	} `json:"image_urls"`
}

// APIError is the error object returned by the API in place of an
// illustration.
type APIError struct {
	UserMessage string `json:"user_message"`
	Message     string `json:"message"`
	Reason      string `json:"reason"`
}

type illustDetail struct {
	Illust *Illust         `json:"illust"`
	Error  json.RawMessage `json:"error"`
}

// MetadataClient fetches illustration metadata from the app API.
type MetadataClient struct {
	// Client is used to make API requests.  It is expected to be backed by a
	// response cache keyed on request URL, so that metadata is shared
	// between callers regardless of the token used to fetch it.
	Client *http.Client

	BaseURL string      // DefaultAPIURL if empty
	Header  http.Header // DefaultAPIHeader if nil
}

// detailURL returns the API URL for the illustration with the given id.
func (c *MetadataClient) detailURL(id string) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultAPIURL
	}
	v := url.Values{"illust_id": {id}}
	return strings.TrimSuffix(base, "/") + "/v1/illust/detail?" + v.Encode()
}

// Illust fetches the metadata for illustration id, authenticating with the
// provided bearer token.  If the API reports the illustration as missing,
// a *ContentError is returned.
func (c *MetadataClient) Illust(ctx context.Context, id, token string) (*Illust, error) {
	u := c.detailURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{u, err}
	}
	header := c.Header
	if header == nil {
		header = DefaultAPIHeader
	}
	copyHeader(req.Header, header)
	req.Header.Set("Authorization", "Bearer "+token)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{u, err}
	}
	defer resp.Body.Close()

	// read to EOF; the response is only written to the cache once the body
	// has been fully consumed.
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{u, err}
	}
	if fromCache(resp) {
		metadataServedFromCacheCount.Inc()
	}

	return parseIllustDetail(u, id, resp.Status, b)
}

func parseIllustDetail(u, id, status string, b []byte) (*Illust, error) {
	var detail illustDetail
	if err := json.Unmarshal(b, &detail); err != nil {
		return nil, &ParseError{Source: u, Message: "status " + status, Err: err}
	}

	if apiErr := detail.Error; len(apiErr) > 0 && !isFalsy(apiErr) {
		ce := &ContentError{ID: id}
		var e APIError
		if json.Unmarshal(apiErr, &e) == nil {
			ce.Message = e.UserMessage
			if ce.Message == "" {
				ce.Message = e.Message
			}
		}
		return nil, ce
	}

	illust := detail.Illust
	if illust == nil {
		return nil, &ParseError{Source: u, Message: "response has neither illust nor error"}
	}
	if illust.PageCount < 1 {
		return nil, &ParseError{Source: u, Message: "illust.page_count must be at least 1"}
	}
	return illust, nil
}

// isFalsy reports whether the raw JSON value v would be treated as absent:
// null, false, 0 or an empty string.
func isFalsy(v json.RawMessage) bool {
	switch string(bytes.TrimSpace(v)) {
	case "null", "false", "0", `""`:
		return true
	}
	return false
}
