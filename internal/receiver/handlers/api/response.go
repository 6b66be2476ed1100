package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithError ends the request with an APIError body. Server-side failures
// are also logged with the request path.
func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", ctx.FullPath(), "code", code, "error", err)
	}
	ctx.Error(err)
	Abort(ctx, status, code, err.Error())
}

// Abort ends the request with an APIError body
func Abort(ctx *gin.Context, status int, code, message string) {
	ctx.AbortWithStatusJSON(status, APIError{
		Code:    code,
		Message: message,
	})
}
