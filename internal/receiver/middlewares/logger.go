package middlewares

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

// Logger writes one line per request under the http group. Health probes are
// not logged.
func Logger(skipPaths ...string) gin.HandlerFunc {
	return slogGin.NewWithConfig(slog.Default().WithGroup("http"), slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		WithUserAgent:    true,
		Filters:          []slogGin.Filter{slogGin.IgnorePath(skipPaths...)},
	})
}

// Annotate adds attributes to the access log line of the current request
func Annotate(ctx *gin.Context, attrs ...slog.Attr) {
	for _, attr := range attrs {
		slogGin.AddCustomAttributes(ctx, attr)
	}
}
