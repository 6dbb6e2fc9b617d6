package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcpden/mcpden/pkg/errdefs"
)

// ok writes a success envelope. Extra fields ride alongside success:true.
func ok(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// fail writes an error envelope with the HTTP status mapped from the
// error's stable code
func fail(c *gin.Context, err error) {
	code := errdefs.GetCode(err)
	c.JSON(errdefs.HTTPStatus(code), gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// failBind reports a malformed request body
func failBind(c *gin.Context, err error) {
	fail(c, errdefs.InvalidArgument("invalid request body: %v", err))
}
