// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package illustproxy provides a caching proxy for original illustration
// images.  Requests of the form "/<id>" or "/<id>-<page>" are resolved to an
// image URL using the app API, and the image is returned to the client.
// For typical use of creating and using a Proxy, see cmd/illustproxy/main.go.
package illustproxy // import "willnorris.com/go/illustproxy"

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fcjr/aia-transport-go"
	"github.com/gregjones/httpcache"
	"github.com/prometheus/client_golang/prometheus"
)

// Proxy serves illustration requests.
//
// Note that a Proxy should not be run behind a http.ServeMux, since the
// ServeMux redirects paths it considers unclean rather than passing them
// through to be rejected.
type Proxy struct {
	Tokens   *TokenSource    // supplies API credentials
	Metadata *MetadataClient // resolves illustrations to image URLs
	Images   *ImageFetcher   // fetches images

	// Timeout specifies a time limit for requests served by this Proxy.
	// If a call runs for longer than its time limit, a 504 Gateway Timeout
	// response is returned.  A Timeout of zero means no timeout.
	Timeout time.Duration

	// The Logger used by the proxy.  If nil, log.Printf is used.
	Logger *log.Logger

	// If true, log additional debug messages.
	Verbose bool
}

// NewProxy constructs a new proxy.  The provided http RoundTripper will be
// used to make upstream requests.  If nil is provided, a transport that can
// complete partial certificate chains is used, falling back to
// http.DefaultTransport.  API and image responses are stored in cache; a nil
// cache disables caching.
//
// Credentials must be set on the returned Proxy's Tokens before use.
func NewProxy(transport http.RoundTripper, cache Cache) *Proxy {
	if transport == nil {
		if t, err := aia.NewTransport(); err == nil {
			transport = t
		} else {
			transport = http.DefaultTransport
		}
	}
	if cache == nil {
		cache = NopCache
	}

	return &Proxy{
		Tokens:   &TokenSource{Client: &http.Client{Transport: transport}},
		Metadata: NewMetadataClient(transport, cache, DefaultMetadataMaxAge),
		Images:   NewImageFetcher(transport, cache),
	}
}

// NewMetadataClient returns a MetadataClient whose responses are cached in
// cache for maxAge.
func NewMetadataClient(transport http.RoundTripper, cache Cache, maxAge time.Duration) *MetadataClient {
	return &MetadataClient{
		Client: newCachingClient(&SanitizingTransport{Transport: transport, MaxAge: maxAge}, cache),
	}
}

// NewImageFetcher returns an ImageFetcher whose responses are cached in
// cache according to the caching headers sent by the image servers.
func NewImageFetcher(transport http.RoundTripper, cache Cache) *ImageFetcher {
	return &ImageFetcher{
		Client: newCachingClient(transport, cache),
	}
}

// ServeHTTP handles illustration requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var h http.Handler = http.HandlerFunc(p.serveIllust)
	if p.Timeout > 0 {
		h = http.TimeoutHandler(h, p.Timeout, "Gateway timeout waiting for remote resource.")
	}

	timer := prometheus.NewTimer(httpRequestsResponseTime)
	defer timer.ObserveDuration()
	h.ServeHTTP(w, r)
}

// serveIllust handles requests for illustrations after any timeout has been
// applied.
func (p *Proxy) serveIllust(w http.ResponseWriter, r *http.Request) {
	req := ParseRequest(r.URL.Path)
	if !req.Valid {
		p.serveError(w, r, ErrInvalidRequest)
		return
	}

	// methods are checked only for paths that name an illustration
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, "405 Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, imageURL, err := p.fetch(r.Context(), req)
	if err != nil {
		p.serveError(w, r, err)
		return
	}
	defer resp.Body.Close()

	if p.Verbose {
		p.logf("request: %v -> %s (served from cache: %t)", req, imageURL, fromCache(resp))
	}

	buildImageResponse(w, r, resp, imageURL, p.Tokens.Expiry())
}

// fetch resolves req to an image URL and fetches the image.
func (p *Proxy) fetch(ctx context.Context, req Request) (*http.Response, string, error) {
	token, err := p.Tokens.Token(ctx)
	if err != nil {
		return nil, "", err
	}

	illust, err := p.Metadata.Illust(ctx, req.ID, token)
	if err != nil {
		return nil, "", err
	}

	if err := Validate(req, illust); err != nil {
		return nil, "", err
	}
	imageURL, err := ImageURL(req, illust)
	if err != nil {
		return nil, "", err
	}

	resp, err := p.Images.Fetch(ctx, imageURL)
	if err != nil {
		return nil, "", err
	}
	return resp, imageURL, nil
}

func (p *Proxy) serveError(w http.ResponseWriter, r *http.Request, err error) {
	msg, code := errorResponse(err)
	requestErrors.WithLabelValues(strconv.Itoa(code)).Inc()
	if code >= 500 || p.Verbose {
		p.logf("%s: %v", r.URL.Path, err)
	}
	writeError(w, msg, code)
}

// writeError replies with the plain text msg.  Unlike http.Error, no
// trailing newline is added.
func writeError(w http.ResponseWriter, msg string, code int) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	io.WriteString(w, msg)
}

// hopHeaders are not forwarded from the image response.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Via",
}

// buildImageResponse writes the image response resp to w, annotated with
// the image's origin URL, the current token expiry and a filename.
func buildImageResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, imageURL string, expiry time.Time) {
	h := w.Header()
	copyHeader(h, resp.Header)
	for _, k := range hopHeaders {
		h.Del(k)
	}
	h.Del(httpcache.XFromCache)
	h.Set("X-Origin-URL", imageURL)
	h.Set("X-Access-Token-TS", strconv.FormatInt(expiry.UnixMilli(), 10))
	h.Set("Content-Disposition", contentDisposition(filename(imageURL)))

	if resp.StatusCode == http.StatusOK && should304(r, resp) {
		h.Del("Content-Length")
		w.WriteHeader(http.StatusNotModified)
		// finish reading so the response is cached
		io.Copy(io.Discard, resp.Body)
		return
	}

	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		io.Copy(io.Discard, resp.Body)
		return
	}
	io.Copy(w, resp.Body)
}

// filename returns the final path segment of the URL u.
func filename(u string) string {
	if parsed, err := url.Parse(u); err == nil {
		u = parsed.Path
	}
	return u[strings.LastIndex(u, "/")+1:]
}

func contentDisposition(name string) string {
	name = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return fmt.Sprintf(`inline; filename="%s"`, name)
}

// copyHeader copies header values from src to dst, adding to any existing
// values with the same header name.  If keys is not empty, only those
// header keys will be copied.
func copyHeader(dst, src http.Header, keys ...string) {
	if len(keys) == 0 {
		for k := range src {
			keys = append(keys, k)
		}
	}
	for _, key := range keys {
		k := http.CanonicalHeaderKey(key)
		for _, v := range src[k] {
			dst.Add(k, v)
		}
	}
}

// should304 returns whether we should send a 304 Not Modified in response to
// req, based on the response resp.  This is determined using the last modified
// time and the entity tag of resp.
func should304(req *http.Request, resp *http.Response) bool {
	if etag := resp.Header.Get("Etag"); etag != "" {
		if inm := req.Header.Get("If-None-Match"); inm != "" {
			return etagMatches(inm, etag)
		}
	}

	lastModified, err := time.Parse(time.RFC1123, resp.Header.Get("Last-Modified"))
	if err != nil {
		return false
	}
	ifModSince, err := time.Parse(time.RFC1123, req.Header.Get("If-Modified-Since"))
	if err != nil {
		return false
	}
	return !lastModified.After(ifModSince)
}

// etagMatches reports whether etag matches any of the comma separated tags
// in ifNoneMatch, using weak comparison.
func etagMatches(ifNoneMatch, etag string) bool {
	etag = strings.TrimPrefix(etag, "W/")
	for _, tag := range strings.Split(ifNoneMatch, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == etag {
			return true
		}
	}
	return false
}

func (p *Proxy) logf(format string, v ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
