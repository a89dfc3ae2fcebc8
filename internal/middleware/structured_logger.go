// Package middleware provides HTTP middleware for the coordination server's
// static asset route.
//
// This file implements structured request logging via zerolog, matching
// the component-logger convention in internal/logger. The RPC traffic
// itself never passes through gin — it is upgraded to a raw WebSocket
// before the JSON-RPC layer ever sees a frame — so this only logs plain
// HTTP requests (the static file route and the upgrade handshake itself).
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lavamoat/tss-relay/internal/logger"
)

// StructuredLogger logs one zerolog event per HTTP request: method, path,
// status, duration, and client IP.
func StructuredLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		requestID := GetRequestID(c)

		log := logger.HTTP()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Str("requestId", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Str("clientIp", c.ClientIP()).
			Msg("http request")
	}
}
