package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/quoteflow/internal/domain/dto"
	"github.com/guttosm/quoteflow/internal/logger"
)

// ErrorHandler renders errors attached with c.Error when the handler wrote no response.
//
// The last attached error wins and is returned as a 500 dto.ErrorResponse; handlers
// that need another status should use AbortWithError instead.
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}
	err := c.Errors.Last().Err
	rid, _ := c.Get(RequestIDKey)
	logger.L().Error().
		Err(err).
		Str("request_id", toString(rid)).
		Str("path", c.Request.URL.Path).
		Msg("unhandled request error")
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("Internal server error", err))
}

// AbortWithError stops the chain and writes status with a dto.ErrorResponse body.
// err may be nil when message alone describes the problem.
func AbortWithError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(message, err))
}
