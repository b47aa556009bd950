package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-gateway/internal/faceerr"
	"github.com/example/face-gateway/internal/logging"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "requestID"

// RequestID reuses the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one structured line per request, including the failure
// kind for in-band errors.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestIDFrom(c)),
		}
		if err := c.Errors.Last(); err != nil {
			fields = append(fields,
				zap.String("operation", logging.OperationOf(err.Err)),
				zap.String("error_kind", faceerr.KindOf(err.Err).String()),
				zap.Error(err.Err),
			)
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request processed", fields...)
	}
}

// Timeout bounds the context handed to the use case, and through it the
// backend call and any image download.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// Recovery turns a panic into the error envelope so callers see the same
// contract as for any other failure.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err := logging.NewOperationError("handlers.recover", requestIDFrom(c), fmt.Errorf("panic: %v", recovered))
		logger.Error("recovered from panic", zap.Error(err), zap.Stack("stack"))
		c.Abort()
		respondError(c, "handlers.recover", fmt.Errorf("internal error: %v", recovered))
	})
}
