package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored so
	// that handlers and other middleware can retrieve it without reading the response header.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a unique identifier
// propagated as an X-Request-ID header. An inbound X-Request-ID (from the
// frontend proxy or a caller) is reused unchanged; otherwise a UUID v4 is
// generated.
//
// The identifier is stored in gin.Context under RequestIDKey and echoed in
// the response header. The request log line written by LoggerMiddleware
// includes it, so a denied request can be matched to its audit entry by the
// log timestamp and path even though audit entries themselves carry no
// request ID. Register this middleware before the logger so every log line
// has the ID.
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
