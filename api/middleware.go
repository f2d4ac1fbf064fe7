// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ginlogger logs handler errors collected during the request.
func (a *API) ginlogger(c *gin.Context) {
	c.Next()

	for _, ginErr := range c.Errors {
		a.log.Error("api handler error",
			"error", ginErr.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
	}
}

// metricsMiddleware records request counts, error counts and per-endpoint
// latency.
func (a *API) metricsMiddleware(c *gin.Context) {
	if a.metricsService == nil {
		c.Next()
		return
	}

	a.metricsService.IncrementHTTPRequests()
	start := time.Now()

	c.Next()

	elapsed := float64(time.Since(start)) / float64(time.Second)
	status := c.Writer.Status()
	if status >= http.StatusInternalServerError {
		a.metricsService.IncrementHTTPErrors()
	}

	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unknown"
	}
	a.metricsService.ObserveAPIEndpointDuration(endpoint, c.Request.Method, strconv.Itoa(status), elapsed)
}
