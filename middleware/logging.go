package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogger attaches a child of base to the request context, tagged with
// the request id and route, and logs one line per finished request.
func RequestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		l := base.With().Str("request_id", requestID).Str("route", route).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		log := zerolog.Ctx(c.Request.Context())
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

// withLogFields extends the request's context logger.
func withLogFields(c *gin.Context, fields func(zerolog.Context) zerolog.Context) {
	ctx := c.Request.Context()
	l := fields(zerolog.Ctx(ctx).With()).Logger()
	c.Request = c.Request.WithContext(l.WithContext(ctx))
}
