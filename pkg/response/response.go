package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cirkle/backend/pkg/apperrors"
)

// Response is the uniform JSON envelope returned by every handler.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{Code: http.StatusUnauthorized, Message: msg})
}

func InternalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "internal error: " + err.Error(),
	})
}

// FromError maps the error taxonomy onto HTTP statuses. Unavailable maps to
// 503 so clients know a retry is reasonable.
func FromError(c *gin.Context, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		NotFound(c, err.Error())
	case apperrors.KindValidation:
		BadRequest(c, err.Error())
	case apperrors.KindUnavailable:
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:    http.StatusServiceUnavailable,
			Message: err.Error(),
		})
	default:
		InternalError(c, err)
	}
}
