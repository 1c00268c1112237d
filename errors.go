// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidRequest is returned for request paths that match neither
// "/<id>" nor "/<id>-<page>".
var ErrInvalidRequest = errors.New("invalid request path")

// Reasons a request is rejected by Validate.  They are wrapped in a
// ValidationError and can be tested for with errors.Is.
var (
	ErrPageRequired   = errors.New("a page number is required")
	ErrPageZero       = errors.New("page must not be 0")
	ErrSinglePage     = errors.New("single image, no page selection needed")
	ErrPageOutOfRange = errors.New("page exceeds count")
)

// ValidationError reports a request whose page selection does not fit the
// illustration it refers to.
type ValidationError struct {
	Err       error // one of the ErrPage* / ErrSinglePage reasons
	ID        string
	PageCount int
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrPageZero) {
		return e.Err.Error()
	}
	pages := "pages"
	if e.PageCount == 1 {
		pages = "page"
	}
	return fmt.Sprintf("illustration %s has %d %s: %v", e.ID, e.PageCount, pages, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ContentError reports that the API could not return the requested
// illustration, usually because it was deleted or made private.
type ContentError struct {
	ID string

	// Message is the message supplied by the API, if any.  It is logged
	// but not returned to clients.
	Message string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("illustration %s may have been deleted or is unavailable", e.ID)
}

// AuthError reports a failure to obtain an access token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication unavailable: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ParseError reports an API response that does not have the expected shape.
type ParseError struct {
	Source  string // API URL or illustration the response describes
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response for %s: %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("malformed response for %s: %s", e.Source, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a transport level failure talking to an upstream server.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching %q: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// errorResponse returns the message and status code sent to clients for err.
func errorResponse(err error) (string, int) {
	var (
		contentErr *ContentError
		validErr   *ValidationError
		authErr    *AuthError
	)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "404 Not Found", http.StatusNotFound
	case errors.As(err, &contentErr):
		return contentErr.Error(), http.StatusNotFound
	case errors.As(err, &validErr):
		return validErr.Error(), http.StatusNotFound
	case errors.As(err, &authErr):
		return "upstream authentication unavailable", http.StatusServiceUnavailable
	default:
		// details may name upstream URLs and are only logged
		return "502 Bad Gateway", http.StatusBadGateway
	}
}
