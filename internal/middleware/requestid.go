package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key the request ID is stored under, so the
	// logger and the audit middleware can read it without touching headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier that follows it
// through the structured logs and into the audit trail. When a claim decision
// is questioned later, the request ID is what ties the HTTP access log line,
// the service-level slog entries, and the audit_logs row together.
//
// An inbound X-Request-ID (from a load balancer or the mobile client) is kept
// as-is; otherwise a fresh UUID v4 is minted. Either way the ID is stored under
// RequestIDKey and echoed back in the response header so callers can quote it
// in support requests.
//
// Register it before the logging and audit middleware so both see the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
