package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qrtrust/internal/usecase"
)

const (
	headerRequestID     = "X-Request-ID"
	requestIDContextKey = "request_id"
	maxRequestIDLen     = 128
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(usecase.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLogMiddleware logs one line per request. Bodies are never logged:
// they carry signatures.
func accessLogMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		entry := log.WithFields(logrus.Fields{
			"request_id":  c.GetString(requestIDContextKey),
			"method":      c.Request.Method,
			"route":       route,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if subject := c.GetString(subjectContextKey); subject != "" {
			entry = entry.WithField("subject", subject)
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("request failed")
		default:
			entry.Info("request handled")
		}
	}
}
