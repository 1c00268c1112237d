// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metadataServedFromCacheCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_served_from_cache",
		Help: "Number of illustration metadata lookups served from cache.",
	})
	imageServedFromCacheCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "images_served_from_cache",
		Help: "Number of image fetches served from cache.",
	})
	remoteImageFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remote_image_fetch_errors",
		Help: "Total image fetch failures",
	})
	tokenRefreshCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_token_refreshes",
		Help: "Number of successful access token refreshes.",
	})
	tokenRefreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_token_refresh_errors",
		Help: "Number of failed access token refreshes.",
	})
	requestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_errors",
		Help: "Requests answered with an error, by status code.",
	}, []string{"code"})
	httpRequestsResponseTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "http",
		Name:      "response_time_seconds",
		Help:      "Request response times",
	})
)

func init() {
	prometheus.MustRegister(metadataServedFromCacheCount)
	prometheus.MustRegister(imageServedFromCacheCount)
	prometheus.MustRegister(remoteImageFetchErrors)
	prometheus.MustRegister(tokenRefreshCount)
	prometheus.MustRegister(tokenRefreshErrors)
	prometheus.MustRegister(requestErrors)
	prometheus.MustRegister(httpRequestsResponseTime)
}
