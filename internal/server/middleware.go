package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/mealdelivery/internal/observability/context"
	obslogger "github.com/smallbiznis/mealdelivery/internal/observability/logger"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// RequestContext propagates or generates a request id and logs failed
// requests. Health check traffic is too frequent to log when healthy.
func RequestContext(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, _ = obscontext.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)

		start := time.Now()
		c.Next()

		if status := c.Writer.Status(); status >= 400 {
			obslogger.WithContext(ctx, log).Warn("http.request.failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}
	}
}
