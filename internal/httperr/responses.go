package httperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(message, details))
}

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(message, nil))
}

// AbortWithInternal sends a 500 Internal Server Error response and aborts the request.
func AbortWithInternal(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, NewAPIError(message, nil))
}
