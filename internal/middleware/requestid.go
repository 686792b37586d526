package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiemr/graphrag-backend/internal/platform/ctxutil"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a request id (incoming header or fresh UUID) and the
// active trace id to the request context, and echoes the id back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		td := ctxutil.TraceData{RequestID: id}
		if span := trace.SpanContextFromContext(c.Request.Context()); span.HasTraceID() {
			td.TraceID = span.TraceID().String()
		}

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), &td))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
