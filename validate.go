// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

// Validate checks that the page selection in req fits illust.  It returns a
// *ValidationError describing the first rule that fails, or nil.
func Validate(req Request, illust *Illust) error {
	fail := func(reason error) error {
		return &ValidationError{Err: reason, ID: req.ID, PageCount: illust.PageCount}
	}

	if !req.MultiPage {
		if illust.PageCount > 1 {
			return fail(ErrPageRequired)
		}
		return nil
	}

	switch {
	case req.Page < 0:
		return fail(ErrPageZero)
	case illust.PageCount == 1:
		return fail(ErrSinglePage)
	case req.Page+1 > illust.PageCount:
		return fail(ErrPageOutOfRange)
	}
	return nil
}

// ImageURL returns the URL of the original image selected by req.  req must
// already have passed Validate.
func ImageURL(req Request, illust *Illust) (string, error) {
	if !req.MultiPage {
		if u := illust.MetaSinglePage.OriginalImageURL; u != "" {
			return u, nil
		}
		return "", &ParseError{Source: "illustration " + req.ID, Message: "illust.meta_single_page.original_image_url is empty"}
	}

	if req.Page >= len(illust.MetaPages) {
		return "", &ParseError{Source: "illustration " + req.ID, Message: "illust.meta_pages is shorter than illust.page_count"}
	}
	if u := illust.MetaPages[req.Page].ImageURLs.Original; u != "" {
		return u, nil
	}
	return "", &ParseError{Source: "illustration " + req.ID, Message: "illust.meta_pages[].image_urls.original is empty"}
}
