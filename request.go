// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	singlePagePath = regexp.MustCompile(`^/(\d+)$`)
	multiPagePath  = regexp.MustCompile(`^/(\d+)-(\d+)$`)
)

// Request is an illustration request parsed from an inbound URL path.
//
// The two accepted shapes are "/<id>" for single-page works and
// "/<id>-<page>" for multi-page works, where page is 1-based.
type Request struct {
	Valid     bool
	MultiPage bool
	ID        string

	// Page is the zero-based page index, set only when MultiPage is true.
	// A requested page of 0 yields -1 here and is rejected by Validate.
	Page int
}

// String returns the request in the same shape it was requested in.
func (r Request) String() string {
	switch {
	case !r.Valid:
		return "invalid"
	case r.MultiPage:
		return fmt.Sprintf("%s-%d", r.ID, r.Page+1)
	default:
		return r.ID
	}
}

// ParseRequest classifies the path of an inbound request.  Paths matching
// neither accepted shape return a Request with Valid set to false.
func ParseRequest(path string) Request {
	if m := multiPagePath.FindStringSubmatch(path); m != nil {
		page, err := strconv.Atoi(m[2])
		if err != nil {
			// out of range for int
			return Request{}
		}
		return Request{
			Valid:     true,
			MultiPage: true,
			ID:        m[1],
			Page:      page - 1,
		}
	}
	if m := singlePagePath.FindStringSubmatch(path); m != nil {
		return Request{Valid: true, ID: m[1]}
	}
	return Request{}
}
