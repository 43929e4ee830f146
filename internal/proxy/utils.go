package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iTrooz/podcast-proxy/internal/feed"
	"github.com/iTrooz/podcast-proxy/internal/fetcher"
	"github.com/iTrooz/podcast-proxy/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// errMissingField reports a request body without the required field
type errMissingField struct {
	Field string
}

func (e *errMissingField) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// errBadBody reports a request body that could not be bound
type errBadBody struct {
	Err error
}

func (e *errBadBody) Error() string {
	return fmt.Sprintf("invalid request body: %v", e.Err)
}

func (e *errBadBody) Unwrap() error {
	return e.Err
}

// bindField binds the JSON or form body into req and checks that field is not blank
func bindField(c *gin.Context, req any, field string, value func() string) error {
	if err := c.ShouldBind(req); err != nil {
		return &errBadBody{Err: err}
	}
	if strings.TrimSpace(value()) == "" {
		return &errMissingField{Field: field}
	}
	return nil
}

// statusFor maps a handler error to the HTTP status answered to the client
func statusFor(err error) int {
	var (
		missing *errMissingField
		badBody *errBadBody
		upErr   *fetcher.UpstreamFetchError
		serErr  *fetcher.SerializationError
		perr    *feed.ParseError
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &badBody):
		return http.StatusBadRequest
	case errors.As(err, &upErr), errors.As(err, &perr), errors.As(err, &serErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers err as a JSON error body
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		logrus.Warnf("%s %s rejected: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// requestLogger logs every request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Info("Handled request")
	}
}

// prometheusMiddleware records request counts and durations
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// unmatched routes share one label to keep cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		metrics.HttpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HttpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
