package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const unmatchedRouteLabel = "unmatched"

func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RequestServed(method string, route string, status int)
}

// RequestMetrics labels requests by route template so ids and static paths do not explode cardinality.
func RequestMetrics(recorder RequestRecorder) gin.HandlerFunc {
	return func(context *gin.Context) {
		context.Next()
		if recorder == nil {
			return
		}
		route := context.FullPath()
		if route == "" {
			route = unmatchedRouteLabel
		}
		recorder.RequestServed(context.Request.Method, route, context.Writer.Status())
	}
}
