package resp

import (
	"errors"
	"net/http"

	"paygate/pkg/payerr"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"ok": true, "data": data})
}
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg, "code": "BAD_REQUEST"})
}
func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": msg})
}
func Forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": msg})
}
func TooManyRequests(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": msg, "code": "RATE_LIMITED"})
}

// Error writes err with the status and code of its payerr class. Internal
// causes are not echoed to the client.
func Error(c *gin.Context, err error) {
	status := payerr.HTTPStatus(err)
	body := gin.H{"ok": false, "code": payerr.Code(err)}

	var verr *payerr.ValidationError
	switch {
	case errors.As(err, &verr):
		body["error"] = "validation failed"
		body["violations"] = verr.Violations
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		body["error"] = "internal error"
	default:
		body["error"] = err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
